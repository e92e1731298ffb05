package whiskers

import (
	"fmt"

	"github.com/copycatdb/whiskers/integratedauth"
	"github.com/copycatdb/whiskers/integratedauth/krb5"
	"github.com/copycatdb/whiskers/integratedauth/ntlm"
	"github.com/copycatdb/whiskers/wsdsn"
)

func init() {
	_ = integratedauth.SetIntegratedAuthenticationProvider("ntlm", ntlm.AuthProvider)
	_ = integratedauth.SetIntegratedAuthenticationProvider("krb5", krb5.AuthProvider)
}

// getIntegratedAuthenticator picks the registered provider that matches
// the configured authentication mode.
func getIntegratedAuthenticator(p wsdsn.Config) (integratedauth.IntegratedAuthenticator, error) {
	var name string
	switch p.Auth {
	case wsdsn.AuthNTLM:
		name = "ntlm"
	case wsdsn.AuthKrb5:
		name = "krb5"
	default:
		return nil, fmt.Errorf("whiskers: no integrated auth provider for mode %v", p.Auth)
	}
	return integratedauth.GetIntegratedAuthenticator(name, p)
}

// Package krb5 implements Kerberos authentication for integrated login
// using MIT-format configuration, keytabs and credential caches.
package krb5

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/spnego"

	"github.com/copycatdb/whiskers/integratedauth"
	"github.com/copycatdb/whiskers/wsdsn"
)

// AuthProvider handles Kerberos authentication; register it under the name
// the connection string uses:
//
//	integratedauth.SetIntegratedAuthenticationProvider("krb5", krb5.AuthProvider)
var AuthProvider integratedauth.Provider = integratedauth.ProviderFunc(getAuth)

type krbAuth struct {
	username   string
	realm      string
	password   string
	serverSPN  string
	krb5Config *config.Config
	keytabPath string
	cachePath  string

	krb5Client *client.Client
}

func getAuth(cfg wsdsn.Config) (integratedauth.IntegratedAuthenticator, error) {
	if cfg.Krb5ConfFile == "" {
		return nil, integratedauth.ErrProviderCannotHandle
	}
	krb5Config, err := config.Load(cfg.Krb5ConfFile)
	if err != nil {
		return nil, fmt.Errorf("krb5: reading configuration %q: %w", cfg.Krb5ConfFile, err)
	}
	spn := cfg.ServerSPN
	if spn == "" {
		spn = fmt.Sprintf("MSSQLSvc/%s:%d", cfg.Host, cfg.Port)
	}
	username, realm := splitRealm(cfg.User, krb5Config.LibDefaults.DefaultRealm)
	return &krbAuth{
		username:   username,
		realm:      realm,
		password:   cfg.Password,
		serverSPN:  spn,
		krb5Config: krb5Config,
		keytabPath: cfg.KeytabFile,
		cachePath:  cfg.CCacheFile,
	}, nil
}

// splitRealm separates user@REALM, defaulting the realm from krb5.conf.
func splitRealm(user, defaultRealm string) (string, string) {
	if at := strings.LastIndexByte(user, '@'); at >= 0 {
		return user[:at], user[at+1:]
	}
	return user, defaultRealm
}

func (a *krbAuth) newClient() (*client.Client, error) {
	switch {
	case a.cachePath != "":
		cache, err := credentials.LoadCCache(a.cachePath)
		if err != nil {
			return nil, fmt.Errorf("krb5: loading credential cache %q: %w", a.cachePath, err)
		}
		return client.NewFromCCache(cache, a.krb5Config, client.DisablePAFXFAST(true))
	case a.keytabPath != "":
		kt, err := keytab.Load(a.keytabPath)
		if err != nil {
			return nil, fmt.Errorf("krb5: loading keytab %q: %w", a.keytabPath, err)
		}
		return client.NewWithKeytab(a.username, a.realm, kt, a.krb5Config, client.DisablePAFXFAST(true)), nil
	case a.password != "":
		return client.NewWithPassword(a.username, a.realm, a.password, a.krb5Config, client.DisablePAFXFAST(true)), nil
	}
	return nil, errors.New("krb5: no credential source configured (keytab, ccache or password)")
}

// InitialBytes acquires a service ticket and wraps it in a SPNEGO initial
// token for the LOGIN7 SSPI field.
func (a *krbAuth) InitialBytes() ([]byte, error) {
	cl, err := a.newClient()
	if err != nil {
		return nil, err
	}
	if err := cl.Login(); err != nil {
		return nil, fmt.Errorf("krb5: login: %w", err)
	}
	ticket, sessionKey, err := cl.GetServiceTicket(a.serverSPN)
	if err != nil {
		cl.Destroy()
		return nil, fmt.Errorf("krb5: obtaining service ticket for %q: %w", a.serverSPN, err)
	}
	negTok, err := spnego.NewNegTokenInitKRB5(cl, ticket, sessionKey)
	if err != nil {
		cl.Destroy()
		return nil, fmt.Errorf("krb5: building SPNEGO token: %w", err)
	}
	out, err := negTok.Marshal()
	if err != nil {
		cl.Destroy()
		return nil, fmt.Errorf("krb5: marshaling SPNEGO token: %w", err)
	}
	a.krb5Client = cl
	return out, nil
}

// NextBytes is a no-op: Kerberos completes in one round trip here, the
// server either accepts the ticket or fails the login.
func (a *krbAuth) NextBytes(_ []byte) ([]byte, error) {
	return nil, nil
}

func (a *krbAuth) Free() {
	if a.krb5Client != nil {
		a.krb5Client.Destroy()
		a.krb5Client = nil
	}
}

// Package integratedauth provides the pluggable interface for integrated
// (SSPI-style) login: the LOGIN7 packet carries the provider's initial
// token, and SSPI continuation packets relay the server round trips.
package integratedauth

import (
	"errors"
	"fmt"

	"github.com/copycatdb/whiskers/wsdsn"
)

// Provider returns an authenticator for a connection attempt.
type Provider interface {
	GetIntegratedAuthenticator(config wsdsn.Config) (IntegratedAuthenticator, error)
}

// IntegratedAuthenticator is the interface for SSPI login providers.
type IntegratedAuthenticator interface {
	// InitialBytes is the token embedded in LOGIN7.
	InitialBytes() ([]byte, error)
	// NextBytes answers a server challenge; a nil reply ends the
	// exchange.
	NextBytes([]byte) ([]byte, error)
	// Free releases provider resources once login settles.
	Free()
}

// ProviderFunc is an adapter to allow the use of ordinary functions as
// Providers.
type ProviderFunc func(config wsdsn.Config) (IntegratedAuthenticator, error)

func (f ProviderFunc) GetIntegratedAuthenticator(config wsdsn.Config) (IntegratedAuthenticator, error) {
	return f(config)
}

var providers = map[string]Provider{}

// ErrProviderCannotHandle signals a provider that does not apply to the
// given configuration, so lookup can fall through.
var ErrProviderCannotHandle = errors.New("integratedauth: provider cannot handle this configuration")

// SetIntegratedAuthenticationProvider registers a provider under a name
// referenced by the "authentication" connection string key.
func SetIntegratedAuthenticationProvider(name string, p Provider) error {
	if name == "" || p == nil {
		return errors.New("integratedauth: provider name and value are required")
	}
	providers[name] = p
	return nil
}

// GetIntegratedAuthenticator resolves the named provider and instantiates
// an authenticator for the config.
func GetIntegratedAuthenticator(name string, config wsdsn.Config) (IntegratedAuthenticator, error) {
	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("integratedauth: no provider registered under %q", name)
	}
	return p.GetIntegratedAuthenticator(config)
}

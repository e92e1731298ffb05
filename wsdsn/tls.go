package wsdsn

import (
	"crypto/tls"
)

// SetupTLS builds the tls.Config used when prelogin negotiation decides to
// upgrade the socket. The TDS handshake predates SNI-style validation on
// some servers, so TrustServerCertificate skips chain verification entirely
// rather than pinning.
func (p Config) SetupTLS() *tls.Config {
	config := tls.Config{
		ServerName:         p.Host,
		InsecureSkipVerify: p.TrustServerCert,

		// Handshake records travel inside TDS packets; fixed record
		// sizing keeps them from straddling packet boundaries.
		DynamicRecordSizingDisabled: true,
		MinVersion:                  tls.VersionTLS10,
	}
	if p.HostInCert != "" {
		config.ServerName = p.HostInCert
	}
	return &config
}

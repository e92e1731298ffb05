package wsdsn

import (
	"errors"
	"testing"
	"time"
)

func TestInvalidConnectionString(t *testing.T) {
	connStrings := []string{
		"log=invalid",
		"port=invalid",
		"port=99999",
		"packet size=invalid",
		"connection timeout=invalid",
		"connection timeout=-1",
		"dial timeout=invalid",
		"encrypt=invalid",
		"trustservercertificate=invalid",
		"authentication=invalid",
		"pool max size=0",
		"pool max size=invalid",
		"server=host,notaport",
		"novalue",
		"=bare",
	}
	for _, connStr := range connStrings {
		_, err := Parse(connStr)
		if err == nil {
			t.Errorf("Parse expected to fail for connection string %q but it didn't", connStr)
			continue
		}
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("Parse(%q) returned %T, want *ConfigError", connStr, err)
		}
	}
}

func TestValidConnectionString(t *testing.T) {
	type testStruct struct {
		connStr string
		check   func(Config) bool
	}
	connStrings := []testStruct{
		{"server=server;database=testdb;user id=tester;password=pwd", func(p Config) bool {
			return p.Host == "server" && p.Database == "testdb" && p.User == "tester" && p.Password == "pwd"
		}},
		{"server=localhost,1433;Database=master;UID=sa;PWD=pass;TrustServerCertificate=yes", func(p Config) bool {
			return p.Host == "localhost" && p.Port == 1433 && p.Database == "master" &&
				p.User == "sa" && p.Password == "pass" && p.TrustServerCert
		}},
		{"Server=tcp:db.example.com,14330", func(p Config) bool {
			return p.Host == "db.example.com" && p.Port == 14330
		}},
		{"", func(p Config) bool { return p.Host == "localhost" && p.Port == DefaultPort }},
		{"ServerSPN=serverspn;Workstation ID=workstid", func(p Config) bool {
			return p.ServerSPN == "serverspn" && p.Workstation == "workstid"
		}},
		{"app name=appname", func(p Config) bool { return p.AppName == "appname" }},
		{"encrypt=disable", func(p Config) bool { return p.Encryption == EncryptionDisabled }},
		{"encrypt=true", func(p Config) bool { return p.Encryption == EncryptionRequired }},
		{"encrypt=mandatory", func(p Config) bool { return p.Encryption == EncryptionRequired }},
		{"encrypt=false", func(p Config) bool { return p.Encryption == EncryptionOff }},
		{"encrypt=optional", func(p Config) bool { return p.Encryption == EncryptionOff }},
		{"authentication=ntlm", func(p Config) bool { return p.Auth == AuthNTLM }},
		{"integrated security=sspi", func(p Config) bool { return p.Auth == AuthNTLM }},
		{"authentication=krb5;krb5conffile=/etc/krb5.conf", func(p Config) bool {
			return p.Auth == AuthKrb5 && p.Krb5ConfFile == "/etc/krb5.conf"
		}},
		{"connection timeout=3;dial timeout=4", func(p Config) bool {
			return p.ConnTimeout == 3*time.Second && p.DialTimeout == 4*time.Second
		}},
		{"log=63", func(p Config) bool { return p.LogFlags == 63 }},
		{"packet size=0", func(p Config) bool { return p.PacketSize == 512 }},
		{"packet size=300", func(p Config) bool { return p.PacketSize == 512 }},
		{"packet size=8192", func(p Config) bool { return p.PacketSize == 8192 }},
		{"packet size=48000", func(p Config) bool { return p.PacketSize == 32767 }},
		{"pool max size=4;pool idle timeout=60;pool acquire timeout=2", func(p Config) bool {
			return p.PoolMaxSize == 4 && p.PoolIdleTimeout == time.Minute && p.PoolAcquireTimeout == 2*time.Second
		}},
		{"Pwd=placeholder", func(p Config) bool { return p.Password == "placeholder" }},
		{"initial catalog=db2", func(p Config) bool { return p.Database == "db2" }},
		{"some future key=some value", func(p Config) bool { return p.Host == "localhost" }},
		{"HostNameInCertificate=*.example.com", func(p Config) bool { return p.HostInCert == "*.example.com" }},
	}
	for _, ts := range connStrings {
		p, err := Parse(ts.connStr)
		if err != nil {
			t.Errorf("Parse failed for %q: %v", ts.connStr, err)
			continue
		}
		if !ts.check(p) {
			t.Errorf("Check failed on connection string %q, parsed: %+v", ts.connStr, p)
		}
	}
}

func TestAddr(t *testing.T) {
	p, err := Parse("server=db.internal,1444")
	if err != nil {
		t.Fatal(err)
	}
	if p.Addr() != "db.internal:1444" {
		t.Errorf("Addr() = %q, want db.internal:1444", p.Addr())
	}
}

func TestSetupTLS(t *testing.T) {
	p, err := Parse("server=db;TrustServerCertificate=true")
	if err != nil {
		t.Fatal(err)
	}
	cfg := p.SetupTLS()
	if !cfg.InsecureSkipVerify {
		t.Error("TrustServerCertificate=true should skip verification")
	}
	if cfg.ServerName != "db" {
		t.Errorf("ServerName = %q, want db", cfg.ServerName)
	}

	p, _ = Parse("server=db;HostNameInCertificate=other")
	cfg = p.SetupTLS()
	if cfg.InsecureSkipVerify {
		t.Error("verification should stay on by default")
	}
	if cfg.ServerName != "other" {
		t.Errorf("ServerName = %q, want other", cfg.ServerName)
	}
}

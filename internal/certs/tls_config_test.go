package certs

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePEM(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestClientConfigMutualTLS(t *testing.T) {
	caCert, caKey := mustCreateCA(t)
	serverCert, serverKey := mustCreateServerCert(t, caCert, caKey)
	clientCert, clientKey := mustCreateClientCert(t, caCert, caKey)

	serverTLSCert, err := tls.X509KeyPair(serverCert, serverKey)
	if err != nil {
		t.Fatalf("load server keypair: %v", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		t.Fatalf("append ca cert")
	}

	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	server.TLS = &tls.Config{
		Certificates: []tls.Certificate{serverTLSCert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}
	server.StartTLS()
	defer server.Close()

	dir := t.TempDir()
	cfg, err := ClientConfig(Options{
		CAFile:   writePEM(t, dir, "ca.pem", caCert),
		CertFile: writePEM(t, dir, "client.pem", clientCert),
		KeyFile:  writePEM(t, dir, "client.key", clientKey),
	})
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{TLSClientConfig: cfg}}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("mTLS request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestClientConfigDisabled(t *testing.T) {
	cfg, err := ClientConfig(Options{})
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config without options, got %v %v", cfg, err)
	}
}

func TestClientConfigErrors(t *testing.T) {
	dir := t.TempDir()
	bogus := writePEM(t, dir, "bogus.pem", []byte("not a pem"))

	tests := []struct {
		name string
		opts Options
	}{
		{name: "cert without key", opts: Options{CertFile: bogus}},
		{name: "invalid keypair", opts: Options{CertFile: bogus, KeyFile: bogus}},
		{name: "invalid ca", opts: Options{CAFile: bogus}},
		{name: "missing ca", opts: Options{CAFile: filepath.Join(dir, "missing.pem")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ClientConfig(tt.opts); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestExpiry(t *testing.T) {
	caCert, caKey := mustCreateCA(t)
	clientCert, _ := mustCreateClientCert(t, caCert, caKey)
	dir := t.TempDir()

	expiry, err := Expiry(writePEM(t, dir, "client.pem", clientCert))
	if err != nil {
		t.Fatalf("Expiry: %v", err)
	}
	if time.Until(expiry) <= 0 {
		t.Fatalf("expected expiry in the future, got %v", expiry)
	}

	if _, err := Expiry(filepath.Join(dir, "missing.pem")); err == nil {
		t.Fatalf("expected error for missing cert")
	}
	if _, err := Expiry(writePEM(t, dir, "bad.pem", []byte("nope"))); err == nil {
		t.Fatalf("expected error for invalid certificate data")
	}
}

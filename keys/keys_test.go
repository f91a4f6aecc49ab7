package keys

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestCertDER(t *testing.T, cn string) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"Test Org"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	return der
}

func TestIsPEM(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"PEM data", []byte("-----BEGIN CERTIFICATE-----\ndata\n-----END CERTIFICATE-----"), true},
		{"PEM with leading newline", []byte("\n-----BEGIN CERTIFICATE-----\ndata\n"), true},
		{"DER data", []byte{0x30, 0x82, 0x01, 0x22}, false},
		{"Empty", []byte{}, false},
		{"Short data", []byte("----"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := isPEM(tt.data); result != tt.expected {
				t.Errorf("isPEM() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestLoadCertsFromPemDerData(t *testing.T) {
	first := createTestCertDER(t, "First")
	second := createTestCertDER(t, "Second")

	var pemData bytes.Buffer
	_ = pem.Encode(&pemData, &pem.Block{Type: "CERTIFICATE", Bytes: first})
	_ = pem.Encode(&pemData, &pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}})
	_ = pem.Encode(&pemData, &pem.Block{Type: "CERTIFICATE", Bytes: second})

	tests := []struct {
		name    string
		data    []byte
		wantCNs []string
		wantErr error
	}{
		{"PEM with two certificates", pemData.Bytes(), []string{"First", "Second"}, nil},
		{"single DER", first, []string{"First"}, nil},
		{"concatenated DER", append(append([]byte{}, first...), second...), []string{"First", "Second"}, nil},
		{"PEM without certificates", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1}}), nil, ErrNoCertFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certs, err := LoadCertsFromPemDerData(tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("LoadCertsFromPemDerData() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCertsFromPemDerData() error = %v", err)
			}
			if len(certs) != len(tt.wantCNs) {
				t.Fatalf("got %d certificates, want %d", len(certs), len(tt.wantCNs))
			}
			for i, cn := range tt.wantCNs {
				if got := certs[i].X509().Subject.CommonName; got != cn {
					t.Errorf("certs[%d] CN = %q, want %q", i, got, cn)
				}
			}
		})
	}
}

func TestLoadCertsFromPemDerData_Invalid(t *testing.T) {
	if _, err := LoadCertsFromPemDerData([]byte{0x30, 0x03, 0x02, 0x01}); err == nil {
		t.Error("expected error for truncated DER")
	}
}

func TestLoadCertFromPemDer_File(t *testing.T) {
	dir := t.TempDir()
	single := filepath.Join(dir, "single.pem")
	double := filepath.Join(dir, "double.der")

	first := createTestCertDER(t, "First")
	if err := os.WriteFile(single, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: first}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(double, append(append([]byte{}, first...), createTestCertDER(t, "Second")...), 0o600); err != nil {
		t.Fatal(err)
	}

	cert, err := LoadCertFromPemDer(single)
	if err != nil {
		t.Fatalf("LoadCertFromPemDer() error = %v", err)
	}
	if !bytes.Equal(cert.Raw(), first) {
		t.Error("loaded certificate differs from the written one")
	}

	if _, err := LoadCertFromPemDer(double); !errors.Is(err, ErrMultipleCerts) {
		t.Errorf("LoadCertFromPemDer(two certs) error = %v, want ErrMultipleCerts", err)
	}
	if _, err := LoadCertFromPemDer(filepath.Join(dir, "missing.pem")); err == nil {
		t.Error("expected error for missing file")
	}

	bundle, err := LoadBundle([]string{single, double})
	if err != nil {
		t.Fatalf("LoadBundle() error = %v", err)
	}
	// The first certificate appears in both files.
	if bundle.Count() != 2 {
		t.Errorf("bundle.Count() = %d, want 2", bundle.Count())
	}
}

func TestEncodeCertsPEM(t *testing.T) {
	certs, err := LoadCertsFromPemDerData(createTestCertDER(t, "Round"))
	if err != nil {
		t.Fatal(err)
	}
	again, err := LoadCertsFromPemDerData(EncodeCertsPEM(certs))
	if err != nil {
		t.Fatalf("LoadCertsFromPemDerData(EncodeCertsPEM()) error = %v", err)
	}
	if len(again) != 1 || !again[0].Equal(certs[0]) {
		t.Error("PEM encoding did not preserve the certificate")
	}
}

func TestLoadAttrCertFromPemDerData_NoBlock(t *testing.T) {
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: createTestCertDER(t, "Not an AC")})
	if _, err := LoadAttrCertFromPemDerData(data); !errors.Is(err, ErrNoAttrCertFound) {
		t.Errorf("LoadAttrCertFromPemDerData() error = %v, want ErrNoAttrCertFound", err)
	}
	if _, err := LoadAttrCertFromPemDerData(EncodeAttrCertPEM([]byte{0x30, 0x00})); err == nil {
		t.Error("expected parse error for an empty attribute certificate")
	}
}

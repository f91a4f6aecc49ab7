package store

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/georgepadayatti/x509path/certvalidator"
)

func newCert(t *testing.T, cn string) *certvalidator.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(7),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := certvalidator.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	return cert
}

func subjects(certs []*certvalidator.Certificate) []string {
	var out []string
	for _, c := range certs {
		out = append(out, c.Subject().String())
	}
	return out
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certs.db")
	root := newCert(t, "Root")
	ca := newCert(t, "Issuing CA")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if n, err := s.Put(KindAnchor, root, root); err != nil || n != 1 {
		t.Fatalf("Put(anchor) = %d, %v; want 1, nil", n, err)
	}
	if n, err := s.Put(KindIntermediate, ca); err != nil || n != 1 {
		t.Fatalf("Put(intermediate) = %d, %v; want 1, nil", n, err)
	}
	if n, err := s.Put(KindAnchor, root); err != nil || n != 0 {
		t.Errorf("Put(duplicate) = %d, %v; want 0, nil", n, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	anchors, err := s.Bundle(KindAnchor)
	if err != nil {
		t.Fatalf("Bundle(anchor) error = %v", err)
	}
	if !anchors.Contains(root) || anchors.Contains(ca) {
		t.Errorf("anchor bundle = %v", subjects(anchors.All()))
	}

	a := certvalidator.NewCertificateBundle()
	i := certvalidator.NewCertificateBundle()
	if err := s.LoadInto(a, i); err != nil {
		t.Fatalf("LoadInto() error = %v", err)
	}
	if diff := cmp.Diff([]string{ca.Subject().String()}, subjects(i.All())); diff != "" {
		t.Errorf("intermediates mismatch (-want +got):\n%s", diff)
	}
	if a.Count() != 1 {
		t.Errorf("anchors.Count() = %d, want 1", a.Count())
	}
}

func TestStoreDelete(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "certs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	root := newCert(t, "Root")
	if _, err := s.Put(KindAnchor, root); err != nil {
		t.Fatal(err)
	}
	found, err := s.Delete(KindAnchor, root.FingerprintHex())
	if err != nil || !found {
		t.Fatalf("Delete() = %v, %v; want true, nil", found, err)
	}
	found, err = s.Delete(KindAnchor, root.FingerprintHex())
	if err != nil || found {
		t.Errorf("second Delete() = %v, %v; want false, nil", found, err)
	}
	if _, err := s.Delete(KindAnchor, "zz"); err == nil {
		t.Error("Delete() accepted a non-hex fingerprint")
	}
}

func TestStoreErrors(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "certs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := s.List(Kind("roots")); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("List(roots) error = %v, want ErrUnknownKind", err)
	}
	s.Close()
	if _, err := s.List(KindAnchor); !errors.Is(err, ErrClosed) {
		t.Errorf("List() after Close error = %v, want ErrClosed", err)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"anchor", KindAnchor, false},
		{"intermediates", KindIntermediate, false},
		{"leaf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseKind(%q) = %q, %v", tt.in, got, err)
		}
	}
}

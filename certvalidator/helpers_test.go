package certvalidator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// testNow is the evaluation time shared by the fixtures below.
var testNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type testCert struct {
	x509 *x509.Certificate
	cert *Certificate
	key  *ecdsa.PrivateKey
}

func newTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

func keyID(t *testing.T, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	sum := sha256.Sum256(der)
	return sum[:20]
}

func caTemplate(subject pkix.Name, serial int64) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               subject,
		NotBefore:             testNow.Add(-24 * time.Hour),
		NotAfter:              testNow.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
}

func leafTemplate(subject pkix.Name, serial int64) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      subject,
		NotBefore:    testNow.Add(-24 * time.Hour),
		NotAfter:     testNow.Add(90 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
}

func cn(name string) pkix.Name {
	return pkix.Name{CommonName: name}
}

// issue signs template for key. A nil parent makes the certificate self-signed.
func issue(t *testing.T, template *x509.Certificate, key *ecdsa.PrivateKey, parent *testCert) *testCert {
	t.Helper()
	if template.IsCA && len(template.SubjectKeyId) == 0 {
		template.SubjectKeyId = keyID(t, key)
	}
	parentCert, signer := template, key
	if parent != nil {
		parentCert, signer = parent.x509, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parentCert, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("Failed to create certificate %s: %v", template.Subject.CommonName, err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate %s: %v", template.Subject.CommonName, err)
	}
	cert, err := NewCertificate(parsed)
	if err != nil {
		t.Fatalf("NewCertificate(%s) error = %v", template.Subject.CommonName, err)
	}
	return &testCert{x509: parsed, cert: cert, key: key}
}

func newRoot(t *testing.T, name string) *testCert {
	t.Helper()
	return issue(t, caTemplate(cn(name), 1), newTestKey(t), nil)
}

func marshalName(t *testing.T, name pkix.Name) []byte {
	t.Helper()
	der, err := asn1.Marshal(name.ToRDNSequence())
	if err != nil {
		t.Fatalf("Failed to marshal name: %v", err)
	}
	return der
}

func addDirectoryName(b *cryptobyte.Builder, nameDER []byte) {
	b.AddASN1(cbasn1.Tag(4).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
		b.AddBytes(nameDER)
	})
}

func nameConstraintsExtension(t *testing.T, permitted pkix.Name) pkix.Extension {
	t.Helper()
	nameDER := marshalName(t, permitted)
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				addDirectoryName(b, nameDER)
			})
		})
	})
	return pkix.Extension{Id: OIDExtensionNameConstraints, Critical: true, Value: b.BytesOrPanic()}
}

func policiesExtension(t *testing.T, policies ...asn1.ObjectIdentifier) pkix.Extension {
	t.Helper()
	type policyInformation struct {
		Policy asn1.ObjectIdentifier
	}
	infos := make([]policyInformation, len(policies))
	for i, p := range policies {
		infos[i] = policyInformation{Policy: p}
	}
	der, err := asn1.Marshal(infos)
	if err != nil {
		t.Fatalf("Failed to marshal policies: %v", err)
	}
	return pkix.Extension{Id: OIDExtensionCertificatePolicies, Value: der}
}

func policyMappingsExtension(t *testing.T, issuerDomain, subjectDomain asn1.ObjectIdentifier) pkix.Extension {
	t.Helper()
	type mapping struct {
		Issuer, Subject asn1.ObjectIdentifier
	}
	der, err := asn1.Marshal([]mapping{{issuerDomain, subjectDomain}})
	if err != nil {
		t.Fatalf("Failed to marshal policy mappings: %v", err)
	}
	return pkix.Extension{Id: OIDExtensionPolicyMappings, Critical: true, Value: der}
}

type stubRevocation struct {
	err error
}

func (s stubRevocation) CheckRevocation(_ context.Context, _, _ *Certificate, _ time.Time) error {
	return s.err
}

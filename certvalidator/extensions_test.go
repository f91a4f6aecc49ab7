package certvalidator

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"net"
	"net/url"
	"testing"

	"golang.org/x/crypto/cryptobyte"
)

func TestSubjectAltNameDecoding(t *testing.T) {
	root := newRoot(t, "SAN Root")
	tmpl := leafTemplate(cn("svc.example"), 2)
	tmpl.DNSNames = []string{"svc.example"}
	tmpl.EmailAddresses = []string{"ops@Example.com"}
	tmpl.IPAddresses = []net.IP{net.ParseIP("192.0.2.10")}
	svcURL, _ := url.Parse("https://svc.example/health")
	tmpl.URIs = []*url.URL{svcURL}
	ee := issue(t, tmpl, newTestKey(t), root)

	san, ok := ee.cert.Extensions().SubjectAltName()
	if !ok {
		t.Fatal("SubjectAltName() not present")
	}
	want := []GeneralName{
		NewDNSName("SVC.example."),
		NewEmailName("ops@example.com"),
		NewIPName(net.ParseIP("192.0.2.10")),
		NewURIName("https://svc.example/health"),
	}
	if len(san) != len(want) {
		t.Fatalf("SubjectAltName() = %v, want %d names", san, len(want))
	}
	for i := range want {
		if !san[i].Equal(want[i]) {
			t.Errorf("name %d = %s, want %s", i, san[i], want[i])
		}
	}
	if NewEmailName("OPS@example.com").Equal(san[1]) {
		t.Error("mailbox comparison ignored case")
	}

	names := CertificateNames(ee.cert)
	if len(names) != 5 || names[0].Type != GeneralNameDirectoryName {
		t.Errorf("CertificateNames() = %v, want the subject followed by the SAN", names)
	}
}

func TestGeneralNameString(t *testing.T) {
	tests := []struct {
		name GeneralName
		want string
	}{
		{NewDNSName("a.example"), "DNS:a.example"},
		{NewEmailName("x@a.example"), "email:x@a.example"},
		{NewIPName(net.ParseIP("2001:db8::1")), "IP:2001:db8::1"},
		{GeneralName{Type: GeneralNameIPAddress, IP: []byte{10, 0, 0, 0, 255, 0, 0, 0}}, "IP:10.0.0.0/255.0.0.0"},
		{NewDirectoryName(mustName(t, cn("EE"))), "DirName:CN=EE"},
	}
	for _, tt := range tests {
		if got := tt.name.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseGeneralNamesErrors(t *testing.T) {
	tests := []struct {
		name string
		der  []byte
	}{
		{"primitive directoryName", []byte{0x30, 0x02, 0x84, 0x00}},
		{"constructed dNSName", []byte{0x30, 0x02, 0xa2, 0x00}},
		{"universal tag", []byte{0x30, 0x02, 0x04, 0x00}},
		{"unknown tag", []byte{0x30, 0x02, 0x89, 0x00}},
		{"bad IP length", []byte{0x30, 0x05, 0x87, 0x03, 1, 2, 3}},
		{"non-ASCII dNSName", []byte{0x30, 0x03, 0x82, 0x01, 0xe9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseGeneralNames(cryptobyte.String(tt.der))
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("parseGeneralNames() error = %v, want *DecodeError", err)
			}
		})
	}
}

func TestDecodeExtensions(t *testing.T) {
	unknown := asn1.ObjectIdentifier{1, 2, 3, 4}
	exts, err := DecodeExtensions([]pkix.Extension{
		{Id: OIDExtensionKeyUsage, Critical: true, Value: []byte{0x03, 0x02, 0x02, 0x84}},
		{Id: unknown, Critical: true, Value: []byte{0x05, 0x00}},
		{Id: asn1.ObjectIdentifier{1, 2, 3, 5}, Value: []byte{0x05, 0x00}},
		{Id: OIDExtensionBasicConstraints, Critical: true, Value: []byte{0x30, 0x06, 0x01, 0x01, 0xff, 0x02, 0x01, 0x03}},
	})
	if err != nil {
		t.Fatalf("DecodeExtensions() error = %v", err)
	}

	ku, ok := exts.KeyUsage()
	if !ok || !ku.Has(KeyUsageDigitalSignature|KeyUsageKeyCertSign) || ku.Has(KeyUsageCRLSign) {
		t.Errorf("KeyUsage() = %b, %v", ku, ok)
	}
	bc, ok := exts.BasicConstraints()
	if !ok || !bc.CA || bc.PathLen != 3 {
		t.Errorf("BasicConstraints() = %+v, %v", bc, ok)
	}
	if _, ok := exts.NameConstraints(); ok {
		t.Error("NameConstraints() reported an absent extension")
	}

	critical := exts.UnrecognizedCritical()
	if len(critical) != 1 || !critical[0].OID.Equal(unknown) {
		t.Errorf("UnrecognizedCritical() = %v, want only %s", critical, unknown)
	}
	if !exts.IsCritical(OIDExtensionKeyUsage) || exts.IsCritical(asn1.ObjectIdentifier{1, 2, 3, 5}) {
		t.Error("IsCritical() gave the wrong answer")
	}
	if ext, _ := exts.Get(unknown); ext.Kind != ExtensionUnknown || !bytes.Equal(ext.Raw, []byte{0x05, 0x00}) {
		t.Errorf("Get(unknown) = %+v", ext)
	}
	if len(exts.All()) != 4 {
		t.Errorf("All() returned %d extensions, want 4", len(exts.All()))
	}
}

func TestDecodeExtensionsErrors(t *testing.T) {
	tests := []struct {
		name string
		exts []pkix.Extension
	}{
		{"duplicate", []pkix.Extension{
			{Id: asn1.ObjectIdentifier{1, 2, 3, 4}, Value: []byte{0x05, 0x00}},
			{Id: asn1.ObjectIdentifier{1, 2, 3, 4}, Value: []byte{0x05, 0x00}},
		}},
		{"malformed keyUsage", []pkix.Extension{{Id: OIDExtensionKeyUsage, Value: []byte{0x05, 0x00}}}},
		{"pathLenConstraint without cA", []pkix.Extension{{Id: OIDExtensionBasicConstraints, Value: []byte{0x30, 0x03, 0x02, 0x01, 0x01}}}},
		{"negative pathLenConstraint", []pkix.Extension{{Id: OIDExtensionBasicConstraints, Value: []byte{0x30, 0x06, 0x01, 0x01, 0xff, 0x02, 0x01, 0xff}}}},
		{"trailing data in subjectKeyIdentifier", []pkix.Extension{{Id: OIDExtensionSubjectKeyID, Value: []byte{0x04, 0x01, 0x01, 0x00}}}},
		{"noRevAvail with content", []pkix.Extension{{Id: OIDExtensionNoRevAvail, Value: []byte{0x05, 0x01, 0x00}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeExtensions(tt.exts)
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("DecodeExtensions() error = %v, want *DecodeError", err)
			}
			if decodeErr.Structure == "" {
				t.Error("DecodeError does not name the structure")
			}
		})
	}
}

func TestCertificateKeyIdentifiers(t *testing.T) {
	rootKey := newTestKey(t)
	tmpl := caTemplate(cn("KeyID Root"), 1)
	tmpl.MaxPathLen = 2
	root := issue(t, tmpl, rootKey, nil)
	ee := issue(t, leafTemplate(cn("EE"), 2), newTestKey(t), root)

	if !bytes.Equal(root.cert.SubjectKeyID(), keyID(t, rootKey)) {
		t.Errorf("SubjectKeyID() = %x", root.cert.SubjectKeyID())
	}
	if !bytes.Equal(ee.cert.AuthorityKeyID(), root.cert.SubjectKeyID()) {
		t.Errorf("AuthorityKeyID() = %x, want %x", ee.cert.AuthorityKeyID(), root.cert.SubjectKeyID())
	}
	if bc, ok := root.cert.Extensions().BasicConstraints(); !ok || bc.PathLen != 2 {
		t.Errorf("BasicConstraints() = %+v, %v", bc, ok)
	}
	if !bytes.Equal(ee.cert.SignedBody(), ee.x509.RawTBSCertificate) {
		t.Error("SignedBody() differs from the encoded TBSCertificate")
	}
	if !bytes.Equal(ee.cert.Signature(), ee.x509.Signature) || !bytes.Equal(ee.cert.Raw(), ee.x509.Raw) {
		t.Error("Signature() or Raw() differs from the parsed certificate")
	}
	if !root.cert.IsCA() || ee.cert.IsCA() {
		t.Error("IsCA() gave the wrong answer")
	}
	if ee.cert.Equal(root.cert) || !ee.cert.Equal(MustParseCertificate(ee.x509.Raw)) {
		t.Error("Equal() gave the wrong answer")
	}
}

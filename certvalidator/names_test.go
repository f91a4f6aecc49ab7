package certvalidator

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustName(t *testing.T, name pkix.Name) Name {
	t.Helper()
	n, err := NameFromPKIX(name)
	if err != nil {
		t.Fatalf("NameFromPKIX() error = %v", err)
	}
	return n
}

func TestNameEqual(t *testing.T) {
	base := mustName(t, pkix.Name{Country: []string{"FI"}, Organization: []string{"Example  Corp"}, CommonName: "Alice"})

	tests := []struct {
		name  string
		other pkix.Name
		want  bool
	}{
		{"identical", pkix.Name{Country: []string{"FI"}, Organization: []string{"Example  Corp"}, CommonName: "Alice"}, true},
		{"case and whitespace", pkix.Name{Country: []string{"fi"}, Organization: []string{" example corp "}, CommonName: "ALICE"}, true},
		{"different value", pkix.Name{Country: []string{"FI"}, Organization: []string{"Example Corp"}, CommonName: "Bob"}, false},
		{"missing attribute", pkix.Name{Country: []string{"FI"}, CommonName: "Alice"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Equal(mustName(t, tt.other)); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNameMultiValuedRDN(t *testing.T) {
	cnAttr := pkix.AttributeTypeAndValue{Type: OIDCommonName, Value: "Alice"}
	uidAttr := pkix.AttributeTypeAndValue{Type: OIDUserID, Value: "alice"}
	encode := func(rdn ...pkix.AttributeTypeAndValue) Name {
		der, err := asn1.Marshal(pkix.RDNSequence{
			{{Type: OIDOrganizationName, Value: "ACME"}},
			rdn,
		})
		if err != nil {
			t.Fatalf("Failed to marshal name: %v", err)
		}
		return MustParseName(der)
	}

	a := encode(cnAttr, uidAttr)
	b := encode(uidAttr, cnAttr)
	if !a.Equal(b) {
		t.Errorf("%s and %s differ only in attribute order", a, b)
	}
	if len(a.RDNs()) != 2 || len(a.RDNs()[1]) != 2 {
		t.Errorf("RDNs() = %v, want a two-valued second RDN", a.RDNs())
	}
}

func TestNameHasPrefix(t *testing.T) {
	full := mustName(t, pkix.Name{Country: []string{"FI"}, Organization: []string{"ACME"}, CommonName: "EE"})
	tests := []struct {
		name string
		base pkix.Name
		want bool
	}{
		{"country", pkix.Name{Country: []string{"FI"}}, true},
		{"country and organization", pkix.Name{Country: []string{"fi"}, Organization: []string{"acme"}}, true},
		{"other country", pkix.Name{Country: []string{"US"}}, false},
		{"longer than the name", pkix.Name{Country: []string{"FI"}, Organization: []string{"ACME"}, CommonName: "EE", SerialNumber: "1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := full.HasPrefix(mustName(t, tt.base)); got != tt.want {
				t.Errorf("HasPrefix() = %v, want %v", got, tt.want)
			}
		})
	}
	if !full.HasPrefix(Name{}) {
		t.Error("every name should start with the empty name")
	}
}

func TestNameString(t *testing.T) {
	tests := []struct {
		name pkix.Name
		want string
	}{
		{pkix.Name{Country: []string{"FI"}, Organization: []string{"ACME"}, CommonName: "EE"}, "CN=EE,O=ACME,C=FI"},
		{pkix.Name{CommonName: "a,b+c"}, `CN=a\,b\+c`},
		{pkix.Name{CommonName: " padded "}, `CN=\ padded\ `},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := mustName(t, tt.name).String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNameValues(t *testing.T) {
	n := mustName(t, pkix.Name{Organization: []string{"ACME", "Widgets"}, CommonName: "EE"})
	if diff := cmp.Diff([]string{"ACME", "Widgets"}, n.Values(OIDOrganizationName)); diff != "" {
		t.Errorf("Values(O) mismatch (-want +got):\n%s", diff)
	}
	if got := n.Values(OIDEmailAddress); got != nil {
		t.Errorf("Values(emailAddress) = %v, want nil", got)
	}
}

func TestParseNameErrors(t *testing.T) {
	tests := []struct {
		name string
		der  []byte
	}{
		{"not a sequence", []byte{0x31, 0x00}},
		{"empty RDN", []byte{0x30, 0x02, 0x31, 0x00}},
		{"trailing data", []byte{0x30, 0x00, 0x00}},
		{"truncated", []byte{0x30, 0x05, 0x31}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseName(tt.der); err == nil {
				t.Error("ParseName() accepted malformed input")
			}
		})
	}
}

func TestCertificateNames(t *testing.T) {
	root := newRoot(t, "Root")
	if got := root.cert.Subject(); !got.Equal(mustName(t, cn("root"))) {
		t.Errorf("Subject() = %s, want CN=Root", got)
	}
	if !root.cert.IsSelfIssued() {
		t.Error("self-signed root is not self-issued")
	}
}

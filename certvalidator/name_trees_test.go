package certvalidator

import (
	"crypto/x509/pkix"
	"net"
	"testing"
)

func TestDNSTreeContains(t *testing.T) {
	tests := []struct {
		base, name string
		want       bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "www.EXAMPLE.com", true},
		{"example.com", "badexample.com", false},
		{".example.com", "example.com", false},
		{".example.com", "a.example.com", true},
		{"", "anything.test", true},
		{"example.com.", "host.example.com", true},
	}
	for _, tt := range tests {
		if got := DNSTreeContains(tt.base, tt.name); got != tt.want {
			t.Errorf("DNSTreeContains(%q, %q) = %v, want %v", tt.base, tt.name, got, tt.want)
		}
	}
}

func TestEmailTreeContains(t *testing.T) {
	tests := []struct {
		base, name string
		want       bool
	}{
		{"alice@example.com", "alice@EXAMPLE.com", true},
		{"alice@example.com", "bob@example.com", false},
		{"example.com", "bob@example.com", true},
		{"example.com", "bob@mail.example.com", false},
		{".example.com", "bob@mail.example.com", true},
		{".example.com", "bob@example.com", false},
		{"example.com", "example.com", false},
	}
	for _, tt := range tests {
		if got := EmailTreeContains(tt.base, tt.name); got != tt.want {
			t.Errorf("EmailTreeContains(%q, %q) = %v, want %v", tt.base, tt.name, got, tt.want)
		}
	}
}

func TestURITreeContains(t *testing.T) {
	tests := []struct {
		base, uri string
		want      bool
	}{
		{"example.com", "https://example.com/path", true},
		{"example.com", "https://www.example.com/", false},
		{".example.com", "ldap://ldap.example.com:389/o=x", true},
		{"example.com", "urn:isbn:12345", false},
		{"example.com", "://bad", false},
	}
	for _, tt := range tests {
		if got := URITreeContains(tt.base, tt.uri); got != tt.want {
			t.Errorf("URITreeContains(%q, %q) = %v, want %v", tt.base, tt.uri, got, tt.want)
		}
	}
}

func TestIPTreeContains(t *testing.T) {
	v4Net := []byte{192, 0, 2, 0, 255, 255, 255, 0}
	v6Net := append(net.ParseIP("2001:db8::"), net.CIDRMask(32, 128)...)
	tests := []struct {
		name       string
		constraint []byte
		ip         net.IP
		want       bool
	}{
		{"inside v4", v4Net, net.ParseIP("192.0.2.77").To4(), true},
		{"outside v4", v4Net, net.ParseIP("198.51.100.1").To4(), false},
		{"inside v6", v6Net, net.ParseIP("2001:db8:1::5"), true},
		{"outside v6", v6Net, net.ParseIP("2001:db9::5"), false},
		{"family mismatch", v4Net, net.ParseIP("2001:db8::5"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IPTreeContains(tt.constraint, tt.ip); got != tt.want {
				t.Errorf("IPTreeContains() = %v, want %v", got, tt.want)
			}
		})
	}
}

func subtree(name GeneralName) GeneralSubtree {
	return GeneralSubtree{Base: name, Maximum: -1}
}

func TestPermittedSubtreesGenerations(t *testing.T) {
	ps := NewPermittedSubtrees()
	if !ps.AcceptName(NewDNSName("anything.test")) {
		t.Fatal("empty permitted set rejected a name")
	}

	ps.IntersectWith([]GeneralSubtree{subtree(NewDNSName("example.com")), subtree(NewDNSName("example.org"))})
	ps.IntersectWith([]GeneralSubtree{subtree(NewDNSName("api.example.com"))})
	if got := ps.Generations(GeneralNameDNSName); got != 2 {
		t.Errorf("Generations(dNSName) = %d, want 2", got)
	}

	tests := []struct {
		name GeneralName
		want bool
	}{
		{NewDNSName("v1.api.example.com"), true},
		{NewDNSName("www.example.com"), false},
		{NewDNSName("api.example.org"), false},
		{NewEmailName("x@elsewhere.test"), true},
	}
	for _, tt := range tests {
		if got := ps.AcceptName(tt.name); got != tt.want {
			t.Errorf("AcceptName(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNameConstraintChecker(t *testing.T) {
	permitted, err := NameFromPKIX(pkix.Name{Country: []string{"FI"}, Organization: []string{"ACME"}})
	if err != nil {
		t.Fatalf("NameFromPKIX() error = %v", err)
	}
	nc := NewNameConstraintChecker()
	nc.ProcessConstraints(&NameConstraints{
		Permitted: []GeneralSubtree{subtree(NewDirectoryName(permitted))},
		Excluded:  []GeneralSubtree{subtree(NewDNSName("internal.acme.fi"))},
	})
	nc.ProcessConstraints(nil)

	root := newRoot(t, "NC Root")
	issueWith := func(subject pkix.Name, dns ...string) *Certificate {
		tmpl := leafTemplate(subject, 5)
		tmpl.DNSNames = dns
		return issue(t, tmpl, newTestKey(t), root).cert
	}

	tests := []struct {
		name         string
		cert         *Certificate
		wantExcluded bool
		wantOK       bool
	}{
		{"permitted subject", issueWith(pkix.Name{Country: []string{"FI"}, Organization: []string{"ACME"}, CommonName: "web"}, "www.acme.fi"), false, true},
		{"subject outside", issueWith(pkix.Name{Country: []string{"FI"}, Organization: []string{"Other"}, CommonName: "web"}), false, false},
		{"excluded SAN", issueWith(pkix.Name{Country: []string{"FI"}, Organization: []string{"ACME"}, CommonName: "db"}, "db.internal.acme.fi"), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violation := nc.Check(tt.cert)
			if (violation == nil) != tt.wantOK {
				t.Fatalf("Check() = %v, want ok %v", violation, tt.wantOK)
			}
			if violation != nil && violation.Excluded != tt.wantExcluded {
				t.Errorf("Excluded = %v, want %v (%v)", violation.Excluded, tt.wantExcluded, violation)
			}
		})
	}

	clone := nc.Clone()
	clone.ProcessConstraints(&NameConstraints{Excluded: []GeneralSubtree{subtree(NewDNSName("acme.fi"))}})
	if nc.Excluded.RejectName(NewDNSName("www.acme.fi")) {
		t.Error("Clone() shares excluded subtrees with the original")
	}
	if !clone.Excluded.RejectName(NewDNSName("www.acme.fi")) {
		t.Error("clone did not record the new excluded subtree")
	}
}

func TestCertificateNamesEmailAttribute(t *testing.T) {
	root := newRoot(t, "Email Root")
	subject := pkix.Name{CommonName: "mailer", ExtraNames: []pkix.AttributeTypeAndValue{{Type: OIDEmailAddress, Value: "mailer@example.com"}}}
	ee := issue(t, leafTemplate(subject, 3), newTestKey(t), root)

	names := CertificateNames(ee.cert)
	if len(names) != 2 || !names[1].Equal(NewEmailName("mailer@example.com")) {
		t.Errorf("CertificateNames() = %v, want the subject and its emailAddress", names)
	}
}

// Package certvalidator provides X.509 certificate path validation.
// This file contains the distinguished name model and name comparison rules.
package certvalidator

import (
	"encoding/asn1"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
	"golang.org/x/text/unicode/norm"
)

// Attribute type OIDs commonly found in distinguished names.
var (
	OIDCommonName         = asn1.ObjectIdentifier{2, 5, 4, 3}
	OIDSerialNumber       = asn1.ObjectIdentifier{2, 5, 4, 5}
	OIDCountryName        = asn1.ObjectIdentifier{2, 5, 4, 6}
	OIDLocalityName       = asn1.ObjectIdentifier{2, 5, 4, 7}
	OIDStateOrProvince    = asn1.ObjectIdentifier{2, 5, 4, 8}
	OIDStreetAddress      = asn1.ObjectIdentifier{2, 5, 4, 9}
	OIDOrganizationName   = asn1.ObjectIdentifier{2, 5, 4, 10}
	OIDOrganizationalUnit = asn1.ObjectIdentifier{2, 5, 4, 11}
	OIDDomainComponent    = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}
	OIDUserID             = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}
	OIDEmailAddress       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
)

var attributeShortNames = map[string]string{
	OIDCommonName.String():         "CN",
	OIDSerialNumber.String():       "SERIALNUMBER",
	OIDCountryName.String():        "C",
	OIDLocalityName.String():       "L",
	OIDStateOrProvince.String():    "ST",
	OIDStreetAddress.String():      "STREET",
	OIDOrganizationName.String():   "O",
	OIDOrganizationalUnit.String(): "OU",
	OIDDomainComponent.String():    "DC",
	OIDUserID.String():             "UID",
	OIDEmailAddress.String():       "emailAddress",
}

// AttributeTypeAndValue is a single attribute of a relative distinguished name.
type AttributeTypeAndValue struct {
	Type asn1.ObjectIdentifier
	// Value holds the decoded text for directory string types.
	Value string
	// IsString reports whether Value was decoded from a string type.
	IsString bool
	// Raw is the complete encoding of the attribute value.
	Raw []byte
}

// RDN is a relative distinguished name; attribute order inside it is not significant.
type RDN []AttributeTypeAndValue

// Name is a decoded X.501 distinguished name.
type Name struct {
	raw  []byte
	rdns []RDN
	key  string
}

// ParseName decodes a DER encoded Name (a SEQUENCE of RDNs).
func ParseName(der []byte) (Name, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) {
		return Name{}, newDecodeError("name", "malformed RDN sequence")
	}
	if !input.Empty() {
		return Name{}, newDecodeError("name", "trailing data")
	}

	var rdns []RDN
	for !seq.Empty() {
		var set cryptobyte.String
		if !seq.ReadASN1(&set, cbasn1.SET) {
			return Name{}, newDecodeError("name", "malformed relative distinguished name")
		}
		var rdn RDN
		for !set.Empty() {
			var atv cryptobyte.String
			var oid asn1.ObjectIdentifier
			if !set.ReadASN1(&atv, cbasn1.SEQUENCE) || !atv.ReadASN1ObjectIdentifier(&oid) {
				return Name{}, newDecodeError("name", "malformed attribute")
			}
			var value cryptobyte.String
			var tag cbasn1.Tag
			if !atv.ReadAnyASN1Element(&value, &tag) || !atv.Empty() {
				return Name{}, newDecodeError("name", "malformed attribute value")
			}
			attr := AttributeTypeAndValue{Type: oid, Raw: append([]byte(nil), value...)}
			var content cryptobyte.String
			var ignored cbasn1.Tag
			value.ReadAnyASN1(&content, &ignored)
			if s, ok := decodeDirectoryString(tag, content); ok {
				attr.Value = s
				attr.IsString = true
			}
			rdn = append(rdn, attr)
		}
		if len(rdn) == 0 {
			return Name{}, newDecodeError("name", "empty relative distinguished name")
		}
		rdns = append(rdns, rdn)
	}

	n := Name{raw: append([]byte(nil), der...), rdns: rdns}
	n.key = n.canonicalKey()
	return n, nil
}

// MustParseName is like ParseName but panics on malformed input.
func MustParseName(der []byte) Name {
	n, err := ParseName(der)
	if err != nil {
		panic(err)
	}
	return n
}

// decodeDirectoryString converts the content octets of a string type to UTF-8.
func decodeDirectoryString(tag cbasn1.Tag, content []byte) (string, bool) {
	switch tag {
	case cbasn1.UTF8String:
		if !utf8.Valid(content) {
			return "", false
		}
		return string(content), true
	case cbasn1.PrintableString, cbasn1.IA5String, cbasn1.Tag(18), cbasn1.Tag(26):
		// PrintableString, IA5String, NumericString, VisibleString
		return string(content), true
	case cbasn1.T61String:
		s, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
		if err != nil {
			return "", false
		}
		return string(s), true
	case cbasn1.Tag(30):
		// BMPString
		s, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(content)
		if err != nil {
			return "", false
		}
		return string(s), true
	case cbasn1.Tag(28):
		// UniversalString
		s, err := utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM).NewDecoder().Bytes(content)
		if err != nil {
			return "", false
		}
		return string(s), true
	}
	return "", false
}

var caseFolder = cases.Fold()

// prepareString applies the string preparation used for name matching:
// compatibility normalization, case folding and whitespace collapsing.
func prepareString(s string) string {
	s = norm.NFKC.String(s)
	s = caseFolder.String(s)
	return strings.Join(strings.Fields(s), " ")
}

func (a AttributeTypeAndValue) matchKey() string {
	if a.IsString {
		return a.Type.String() + "=" + strconv.Quote(prepareString(a.Value))
	}
	return a.Type.String() + "=#" + hex.EncodeToString(a.Raw)
}

func (n Name) canonicalKey() string {
	parts := make([]string, len(n.rdns))
	for i, rdn := range n.rdns {
		attrs := make([]string, len(rdn))
		for j, atv := range rdn {
			attrs[j] = atv.matchKey()
		}
		sort.Strings(attrs)
		parts[i] = strings.Join(attrs, "+")
	}
	return strings.Join(parts, ",")
}

// Raw returns the DER encoding the name was decoded from.
func (n Name) Raw() []byte {
	return n.raw
}

// RDNs returns the relative distinguished names, most significant first.
func (n Name) RDNs() []RDN {
	return n.rdns
}

// IsEmpty reports whether the name has no RDNs.
func (n Name) IsEmpty() bool {
	return len(n.rdns) == 0
}

// Key returns a string that is identical for equal names.
func (n Name) Key() string {
	return n.key
}

// Equal reports whether two names match. Attribute order within an RDN is
// ignored and string values are compared after preparation.
func (n Name) Equal(other Name) bool {
	return n.key == other.key
}

// HasPrefix reports whether the RDN sequence of base is a leading part of n.
func (n Name) HasPrefix(base Name) bool {
	if len(base.rdns) > len(n.rdns) {
		return false
	}
	for i, rdn := range base.rdns {
		if !rdnEqual(rdn, n.rdns[i]) {
			return false
		}
	}
	return true
}

func rdnEqual(a, b RDN) bool {
	if len(a) != len(b) {
		return false
	}
	ka := make([]string, len(a))
	kb := make([]string, len(b))
	for i := range a {
		ka[i] = a[i].matchKey()
		kb[i] = b[i].matchKey()
	}
	sort.Strings(ka)
	sort.Strings(kb)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}

// Values returns every string value of the given attribute type.
func (n Name) Values(oid asn1.ObjectIdentifier) []string {
	var out []string
	for _, rdn := range n.rdns {
		for _, atv := range rdn {
			if atv.IsString && atv.Type.Equal(oid) {
				out = append(out, atv.Value)
			}
		}
	}
	return out
}

// String formats the name in RFC 4514 order (least significant RDN first).
func (n Name) String() string {
	parts := make([]string, 0, len(n.rdns))
	for i := len(n.rdns) - 1; i >= 0; i-- {
		attrs := make([]string, len(n.rdns[i]))
		for j, atv := range n.rdns[i] {
			attrs[j] = atv.String()
		}
		parts = append(parts, strings.Join(attrs, "+"))
	}
	return strings.Join(parts, ",")
}

func (a AttributeTypeAndValue) String() string {
	typ, ok := attributeShortNames[a.Type.String()]
	if !ok {
		typ = a.Type.String()
	}
	if !a.IsString {
		return typ + "=#" + hex.EncodeToString(a.Raw)
	}
	return typ + "=" + escapeAttributeValue(a.Value)
}

func escapeAttributeValue(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case strings.ContainsRune(",+\"\\<>;=", r):
			b.WriteByte('\\')
		case i == 0 && (r == ' ' || r == '#'):
			b.WriteByte('\\')
		case i == len(s)-1 && r == ' ':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

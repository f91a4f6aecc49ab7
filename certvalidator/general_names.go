// Package certvalidator provides X.509 certificate path validation.
// This file contains the GeneralName model shared by extensions and attribute certificates.
package certvalidator

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// GeneralNameType represents the CHOICE alternative of a GeneralName.
type GeneralNameType int

const (
	GeneralNameOtherName GeneralNameType = iota
	GeneralNameRFC822Name
	GeneralNameDNSName
	GeneralNameX400Address
	GeneralNameDirectoryName
	GeneralNameEDIPartyName
	GeneralNameURI
	GeneralNameIPAddress
	GeneralNameRegisteredID
)

// String returns the ASN.1 name of the alternative.
func (t GeneralNameType) String() string {
	switch t {
	case GeneralNameOtherName:
		return "otherName"
	case GeneralNameRFC822Name:
		return "rfc822Name"
	case GeneralNameDNSName:
		return "dNSName"
	case GeneralNameX400Address:
		return "x400Address"
	case GeneralNameDirectoryName:
		return "directoryName"
	case GeneralNameEDIPartyName:
		return "ediPartyName"
	case GeneralNameURI:
		return "uniformResourceIdentifier"
	case GeneralNameIPAddress:
		return "iPAddress"
	case GeneralNameRegisteredID:
		return "registeredID"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// GeneralName is a decoded GeneralName.
type GeneralName struct {
	Type GeneralNameType
	// Value holds rfc822Name, dNSName and URI text, or the dotted OID of a registeredID.
	Value string
	// IP holds iPAddress octets: 4 or 16 bytes for names, 8 or 32 bytes
	// (address followed by mask) inside name constraints.
	IP            []byte
	DirectoryName Name
	// Raw is the complete tagged encoding.
	Raw []byte
}

// NewDNSName returns a dNSName GeneralName.
func NewDNSName(host string) GeneralName {
	return GeneralName{Type: GeneralNameDNSName, Value: host}
}

// NewEmailName returns an rfc822Name GeneralName.
func NewEmailName(addr string) GeneralName {
	return GeneralName{Type: GeneralNameRFC822Name, Value: addr}
}

// NewURIName returns a uniformResourceIdentifier GeneralName.
func NewURIName(uri string) GeneralName {
	return GeneralName{Type: GeneralNameURI, Value: uri}
}

// NewIPName returns an iPAddress GeneralName.
func NewIPName(ip net.IP) GeneralName {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return GeneralName{Type: GeneralNameIPAddress, IP: []byte(ip)}
}

// NewDirectoryName returns a directoryName GeneralName.
func NewDirectoryName(name Name) GeneralName {
	return GeneralName{Type: GeneralNameDirectoryName, DirectoryName: name}
}

// NameFromPKIX encodes a pkix.Name and decodes it into a Name.
func NameFromPKIX(name pkix.Name) (Name, error) {
	der, err := asn1.Marshal(name.ToRDNSequence())
	if err != nil {
		return Name{}, fmt.Errorf("encoding name: %w", err)
	}
	return ParseName(der)
}

// Equal reports whether two general names identify the same entity.
func (g GeneralName) Equal(other GeneralName) bool {
	if g.Type != other.Type {
		return false
	}
	switch g.Type {
	case GeneralNameDNSName:
		return strings.EqualFold(strings.TrimSuffix(g.Value, "."), strings.TrimSuffix(other.Value, "."))
	case GeneralNameRFC822Name:
		gl, gd := splitEmail(g.Value)
		ol, od := splitEmail(other.Value)
		return gl == ol && strings.EqualFold(gd, od)
	case GeneralNameURI, GeneralNameRegisteredID:
		return g.Value == other.Value
	case GeneralNameIPAddress:
		return bytes.Equal(g.IP, other.IP)
	case GeneralNameDirectoryName:
		return g.DirectoryName.Equal(other.DirectoryName)
	default:
		return bytes.Equal(g.Raw, other.Raw)
	}
}

func (g GeneralName) String() string {
	switch g.Type {
	case GeneralNameDNSName:
		return "DNS:" + g.Value
	case GeneralNameRFC822Name:
		return "email:" + g.Value
	case GeneralNameURI:
		return "URI:" + g.Value
	case GeneralNameRegisteredID:
		return "RID:" + g.Value
	case GeneralNameIPAddress:
		if len(g.IP) == 8 || len(g.IP) == 32 {
			half := len(g.IP) / 2
			return fmt.Sprintf("IP:%s/%s", net.IP(g.IP[:half]), net.IP(g.IP[half:]))
		}
		return "IP:" + net.IP(g.IP).String()
	case GeneralNameDirectoryName:
		return "DirName:" + g.DirectoryName.String()
	default:
		return fmt.Sprintf("%s:%x", g.Type, g.Raw)
	}
}

// containsGeneralName reports whether names holds an entry equal to name.
func containsGeneralName(names []GeneralName, name GeneralName) bool {
	for _, n := range names {
		if n.Equal(name) {
			return true
		}
	}
	return false
}

// parseGeneralNames decodes GeneralNames ::= SEQUENCE OF GeneralName.
func parseGeneralNames(der cryptobyte.String) ([]GeneralName, error) {
	var seq cryptobyte.String
	if !der.ReadASN1(&seq, cbasn1.SEQUENCE) || !der.Empty() {
		return nil, newDecodeError("general names", "malformed sequence")
	}
	return parseGeneralNameList(seq)
}

// parseGeneralNameList decodes the contents of a GeneralNames sequence.
func parseGeneralNameList(seq cryptobyte.String) ([]GeneralName, error) {
	var names []GeneralName
	for !seq.Empty() {
		gn, err := readGeneralName(&seq)
		if err != nil {
			return nil, err
		}
		names = append(names, gn)
	}
	return names, nil
}

// readGeneralName consumes one GeneralName element from s.
func readGeneralName(s *cryptobyte.String) (GeneralName, error) {
	var elem cryptobyte.String
	var tag cbasn1.Tag
	if !s.ReadAnyASN1Element(&elem, &tag) {
		return GeneralName{}, newDecodeError("general name", "malformed element")
	}
	gn := GeneralName{Raw: append([]byte(nil), elem...)}
	var content cryptobyte.String
	if !elem.ReadAnyASN1(&content, &tag) {
		return GeneralName{}, newDecodeError("general name", "malformed element")
	}

	class := tag & 0xc0
	if class != 0x80 {
		return GeneralName{}, newDecodeError("general name", "not context-specific")
	}
	constructed := tag&0x20 != 0
	gn.Type = GeneralNameType(tag & 0x1f)

	switch gn.Type {
	case GeneralNameOtherName, GeneralNameX400Address, GeneralNameEDIPartyName:
		if !constructed {
			return GeneralName{}, newDecodeError("general name", gn.Type.String()+" must be constructed")
		}
	case GeneralNameRFC822Name, GeneralNameDNSName, GeneralNameURI:
		if constructed {
			return GeneralName{}, newDecodeError("general name", gn.Type.String()+" must be primitive")
		}
		for _, c := range content {
			if c > 0x7f {
				return GeneralName{}, newDecodeError("general name", gn.Type.String()+" is not IA5String")
			}
		}
		gn.Value = string(content)
	case GeneralNameDirectoryName:
		// A CHOICE is always explicitly tagged.
		if !constructed {
			return GeneralName{}, newDecodeError("general name", "directoryName must be constructed")
		}
		name, err := ParseName(content)
		if err != nil {
			return GeneralName{}, err
		}
		gn.DirectoryName = name
	case GeneralNameIPAddress:
		if constructed {
			return GeneralName{}, newDecodeError("general name", "iPAddress must be primitive")
		}
		switch len(content) {
		case 4, 8, 16, 32:
		default:
			return GeneralName{}, newDecodeError("general name", fmt.Sprintf("iPAddress of invalid length %d", len(content)))
		}
		gn.IP = append([]byte(nil), content...)
	case GeneralNameRegisteredID:
		full := cryptobyte.NewBuilder(nil)
		full.AddASN1(cbasn1.OBJECT_IDENTIFIER, func(b *cryptobyte.Builder) { b.AddBytes(content) })
		oidDER := cryptobyte.String(full.BytesOrPanic())
		var oid asn1.ObjectIdentifier
		if !oidDER.ReadASN1ObjectIdentifier(&oid) {
			return GeneralName{}, newDecodeError("general name", "malformed registeredID")
		}
		gn.Value = oid.String()
	default:
		return GeneralName{}, newDecodeError("general name", fmt.Sprintf("unknown tag [%d]", int(gn.Type)))
	}
	return gn, nil
}

func splitEmail(email string) (mailbox, host string) {
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return "", email
	}
	return email[:idx], email[idx+1:]
}

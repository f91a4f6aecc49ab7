// Package certvalidator provides X.509 certificate path validation.
// This file contains the attribute certificate model (RFC 5755).
package certvalidator

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// OIDs for attribute certificate extensions not decoded into typed values.
var (
	// OIDAAControls is the OID for AA controls extension
	OIDAAControls = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 6}

	// OIDAuditIdentity is the OID for audit identity extension
	OIDAuditIdentity = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 4}

	OIDAuthorityInfoAccess   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 1}
	OIDCRLDistributionPoints = asn1.ObjectIdentifier{2, 5, 29, 31}

	// Attribute types of RFC 5755 Section 4.4.
	OIDAttributeAuthenticInfo    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 10, 1}
	OIDAttributeAccessIdentity   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 10, 2}
	OIDAttributeChargingIdentity = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 10, 3}
	OIDAttributeGroup            = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 10, 4}
	OIDAttributeRole             = asn1.ObjectIdentifier{2, 5, 4, 72}
	OIDAttributeClearance        = asn1.ObjectIdentifier{2, 5, 1, 5, 55}
)

// TargetKind distinguishes the Target CHOICE alternatives.
type TargetKind int

const (
	// TargetKindName indicates a target name
	TargetKindName TargetKind = iota
	// TargetKindGroup indicates a target group
	TargetKindGroup
	// TargetKindCert indicates a target certificate
	TargetKindCert
)

func (k TargetKind) String() string {
	switch k {
	case TargetKindName:
		return "name"
	case TargetKindGroup:
		return "group"
	case TargetKindCert:
		return "cert"
	default:
		return "unknown"
	}
}

// Target is an entry of the target information extension, or an acceptable
// target configured by the relying party.
type Target struct {
	Kind TargetKind
	// Name is set for name and group targets.
	Name GeneralName
	// Raw is the DER of the CHOICE element. Certificate targets compare by it.
	Raw []byte
}

// NewTargetName returns a name target.
func NewTargetName(name GeneralName) Target {
	return Target{Kind: TargetKindName, Name: name}
}

// NewTargetGroup returns a group target.
func NewTargetGroup(name GeneralName) Target {
	return Target{Kind: TargetKindGroup, Name: name}
}

// Equal reports whether two targets designate the same entity.
func (t Target) Equal(other Target) bool {
	if t.Kind != other.Kind {
		return false
	}
	if t.Kind == TargetKindCert {
		return bytes.Equal(t.Raw, other.Raw)
	}
	return t.Name.Equal(other.Name)
}

func (t Target) String() string {
	if t.Kind == TargetKindCert {
		return "cert"
	}
	return t.Kind.String() + ":" + t.Name.String()
}

// IssuerSerial identifies a certificate by issuer and serial number.
type IssuerSerial struct {
	Issuer    []GeneralName
	Serial    *big.Int
	IssuerUID asn1.BitString
}

// DigestedObjectType tells what an ObjectDigestInfo digest covers.
type DigestedObjectType int

const (
	DigestedPublicKey     DigestedObjectType = 0
	DigestedPublicKeyCert DigestedObjectType = 1
	DigestedOtherObject   DigestedObjectType = 2
)

// ObjectDigestInfo contains digest information for an object.
type ObjectDigestInfo struct {
	Type              DigestedObjectType
	OtherObjectTypeID asn1.ObjectIdentifier
	DigestAlgorithm   pkix.AlgorithmIdentifier
	Digest            []byte
}

// Holder represents the holder of an attribute certificate.
type Holder struct {
	BaseCertificateID *IssuerSerial
	EntityName        []GeneralName
	ObjectDigestInfo  *ObjectDigestInfo
}

// AttCertIssuer identifies the attribute authority. V1Form issuers carry
// only IssuerName.
type AttCertIssuer struct {
	V1Form            bool
	IssuerName        []GeneralName
	BaseCertificateID *IssuerSerial
	ObjectDigestInfo  *ObjectDigestInfo
}

// Attribute is a single attribute with its DER encoded values.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values [][]byte
}

// AttributeCertificate is an immutable decoded attribute certificate.
type AttributeCertificate struct {
	Raw     []byte
	RawInfo []byte

	Version            int
	Holder             Holder
	Issuer             AttCertIssuer
	SerialNumber       *big.Int
	NotBefore          time.Time
	NotAfter           time.Time
	Attributes         []Attribute
	IssuerUniqueID     asn1.BitString
	Extensions         Extensions
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
}

// SignedBody returns the AttributeCertificateInfo bytes covered by the signature.
func (ac *AttributeCertificate) SignedBody() []byte { return ac.RawInfo }

// AttributeValues returns the raw values of every attribute of the given type.
func (ac *AttributeCertificate) AttributeValues(oid asn1.ObjectIdentifier) [][]byte {
	var out [][]byte
	for _, attr := range ac.Attributes {
		if attr.Type.Equal(oid) {
			out = append(out, attr.Values...)
		}
	}
	return out
}

var tagContext2Constructed = cbasn1.Tag(2).ContextSpecific().Constructed()

// ParseAttributeCertificate decodes a DER encoded version 2 attribute certificate.
func ParseAttributeCertificate(der []byte) (*AttributeCertificate, error) {
	input := cryptobyte.String(der)
	var outer, info, algDER cryptobyte.String
	var sig asn1.BitString
	if !input.ReadASN1(&outer, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, newDecodeError("attribute certificate", "malformed outer structure")
	}
	if !outer.ReadASN1Element(&info, cbasn1.SEQUENCE) ||
		!outer.ReadASN1Element(&algDER, cbasn1.SEQUENCE) ||
		!outer.ReadASN1BitString(&sig) || !outer.Empty() {
		return nil, newDecodeError("attribute certificate", "malformed outer structure")
	}
	outerAlg, err := parseAlgorithmIdentifier(algDER)
	if err != nil {
		return nil, err
	}
	ac := &AttributeCertificate{
		Raw:                append([]byte(nil), der...),
		RawInfo:            append([]byte(nil), info...),
		SignatureAlgorithm: outerAlg,
		Signature:          sig.RightAlign(),
	}
	if err := ac.parseInfo(info); err != nil {
		return nil, err
	}
	return ac, nil
}

func (ac *AttributeCertificate) parseInfo(der cryptobyte.String) error {
	var info cryptobyte.String
	if !der.ReadASN1(&info, cbasn1.SEQUENCE) {
		return newDecodeError("attribute certificate info", "malformed sequence")
	}
	if !info.ReadASN1Integer(&ac.Version) || ac.Version != 1 {
		return newDecodeError("attribute certificate info", "version must be v2")
	}

	var holderDER cryptobyte.String
	if !info.ReadASN1(&holderDER, cbasn1.SEQUENCE) {
		return newDecodeError("holder", "malformed sequence")
	}
	holder, err := parseHolder(holderDER)
	if err != nil {
		return err
	}
	ac.Holder = holder

	issuer, err := readAttCertIssuer(&info)
	if err != nil {
		return err
	}
	ac.Issuer = issuer

	var innerAlg cryptobyte.String
	if !info.ReadASN1Element(&innerAlg, cbasn1.SEQUENCE) {
		return newDecodeError("attribute certificate info", "malformed signature algorithm")
	}
	alg, err := parseAlgorithmIdentifier(innerAlg)
	if err != nil {
		return err
	}
	if !alg.Algorithm.Equal(ac.SignatureAlgorithm.Algorithm) ||
		!bytes.Equal(alg.Parameters.FullBytes, ac.SignatureAlgorithm.Parameters.FullBytes) {
		return newDecodeError("attribute certificate", "signature algorithm mismatch")
	}

	ac.SerialNumber = new(big.Int)
	if !info.ReadASN1Integer(ac.SerialNumber) {
		return newDecodeError("attribute certificate info", "malformed serial number")
	}

	var validity cryptobyte.String
	if !info.ReadASN1(&validity, cbasn1.SEQUENCE) ||
		!validity.ReadASN1GeneralizedTime(&ac.NotBefore) ||
		!validity.ReadASN1GeneralizedTime(&ac.NotAfter) || !validity.Empty() {
		return newDecodeError("attribute certificate info", "malformed validity period")
	}

	var attrs cryptobyte.String
	if !info.ReadASN1(&attrs, cbasn1.SEQUENCE) {
		return newDecodeError("attributes", "malformed sequence")
	}
	for !attrs.Empty() {
		attr, err := readAttribute(&attrs)
		if err != nil {
			return err
		}
		ac.Attributes = append(ac.Attributes, attr)
	}

	if info.PeekASN1Tag(cbasn1.BIT_STRING) {
		if !info.ReadASN1BitString(&ac.IssuerUniqueID) {
			return newDecodeError("attribute certificate info", "malformed issuer unique ID")
		}
	}

	var raw []pkix.Extension
	if info.PeekASN1Tag(cbasn1.SEQUENCE) {
		var extsDER cryptobyte.String
		if !info.ReadASN1(&extsDER, cbasn1.SEQUENCE) {
			return newDecodeError("extensions", "malformed sequence")
		}
		if raw, err = readExtensionList(extsDER); err != nil {
			return err
		}
	}
	if !info.Empty() {
		return newDecodeError("attribute certificate info", "trailing data")
	}
	ac.Extensions, err = DecodeExtensions(raw)
	return err
}

func parseHolder(s cryptobyte.String) (Holder, error) {
	var h Holder
	var content cryptobyte.String
	var present bool

	if !s.ReadOptionalASN1(&content, &present, tagContext0Constructed) {
		return Holder{}, newDecodeError("holder", "malformed baseCertificateID")
	}
	if present {
		is, err := parseIssuerSerial(content)
		if err != nil {
			return Holder{}, err
		}
		h.BaseCertificateID = is
	}

	if !s.ReadOptionalASN1(&content, &present, tagContext1Constructed) {
		return Holder{}, newDecodeError("holder", "malformed entityName")
	}
	if present {
		names, err := parseGeneralNameList(content)
		if err != nil {
			return Holder{}, err
		}
		h.EntityName = names
	}

	if !s.ReadOptionalASN1(&content, &present, tagContext2Constructed) {
		return Holder{}, newDecodeError("holder", "malformed objectDigestInfo")
	}
	if present {
		odi, err := parseObjectDigestInfo(content)
		if err != nil {
			return Holder{}, err
		}
		h.ObjectDigestInfo = odi
	}
	if !s.Empty() {
		return Holder{}, newDecodeError("holder", "trailing data")
	}
	if h.BaseCertificateID == nil && len(h.EntityName) == 0 && h.ObjectDigestInfo == nil {
		return Holder{}, newDecodeError("holder", "no holder identification")
	}
	return h, nil
}

// readAttCertIssuer reads the AttCertIssuer CHOICE.
func readAttCertIssuer(s *cryptobyte.String) (AttCertIssuer, error) {
	if s.PeekASN1Tag(cbasn1.SEQUENCE) {
		var seq cryptobyte.String
		if !s.ReadASN1(&seq, cbasn1.SEQUENCE) {
			return AttCertIssuer{}, newDecodeError("issuer", "malformed v1Form")
		}
		names, err := parseGeneralNameList(seq)
		if err != nil {
			return AttCertIssuer{}, err
		}
		return AttCertIssuer{V1Form: true, IssuerName: names}, nil
	}

	var v2 cryptobyte.String
	if !s.ReadASN1(&v2, tagContext0Constructed) {
		return AttCertIssuer{}, newDecodeError("issuer", "expected v1Form or v2Form")
	}
	var out AttCertIssuer
	if v2.PeekASN1Tag(cbasn1.SEQUENCE) {
		var seq cryptobyte.String
		if !v2.ReadASN1(&seq, cbasn1.SEQUENCE) {
			return AttCertIssuer{}, newDecodeError("issuer", "malformed issuerName")
		}
		names, err := parseGeneralNameList(seq)
		if err != nil {
			return AttCertIssuer{}, err
		}
		out.IssuerName = names
	}
	var content cryptobyte.String
	var present bool
	if !v2.ReadOptionalASN1(&content, &present, tagContext0Constructed) {
		return AttCertIssuer{}, newDecodeError("issuer", "malformed baseCertificateID")
	}
	if present {
		is, err := parseIssuerSerial(content)
		if err != nil {
			return AttCertIssuer{}, err
		}
		out.BaseCertificateID = is
	}
	if !v2.ReadOptionalASN1(&content, &present, tagContext1Constructed) {
		return AttCertIssuer{}, newDecodeError("issuer", "malformed objectDigestInfo")
	}
	if present {
		odi, err := parseObjectDigestInfo(content)
		if err != nil {
			return AttCertIssuer{}, err
		}
		out.ObjectDigestInfo = odi
	}
	if !v2.Empty() {
		return AttCertIssuer{}, newDecodeError("issuer", "trailing data in v2Form")
	}
	return out, nil
}

// parseIssuerSerial decodes the contents of an IssuerSerial SEQUENCE.
func parseIssuerSerial(s cryptobyte.String) (*IssuerSerial, error) {
	var names cryptobyte.String
	if !s.ReadASN1(&names, cbasn1.SEQUENCE) {
		return nil, newDecodeError("issuer serial", "malformed issuer")
	}
	issuer, err := parseGeneralNameList(names)
	if err != nil {
		return nil, err
	}
	out := &IssuerSerial{Issuer: issuer, Serial: new(big.Int)}
	if !s.ReadASN1Integer(out.Serial) {
		return nil, newDecodeError("issuer serial", "malformed serial")
	}
	if s.PeekASN1Tag(cbasn1.BIT_STRING) && !s.ReadASN1BitString(&out.IssuerUID) {
		return nil, newDecodeError("issuer serial", "malformed issuerUID")
	}
	if !s.Empty() {
		return nil, newDecodeError("issuer serial", "trailing data")
	}
	return out, nil
}

// parseObjectDigestInfo decodes the contents of an ObjectDigestInfo SEQUENCE.
func parseObjectDigestInfo(s cryptobyte.String) (*ObjectDigestInfo, error) {
	var kind int
	if !s.ReadASN1Enum(&kind) || kind < 0 || kind > 2 {
		return nil, newDecodeError("object digest info", "malformed digestedObjectType")
	}
	out := &ObjectDigestInfo{Type: DigestedObjectType(kind)}
	if s.PeekASN1Tag(cbasn1.OBJECT_IDENTIFIER) && !s.ReadASN1ObjectIdentifier(&out.OtherObjectTypeID) {
		return nil, newDecodeError("object digest info", "malformed otherObjectTypeID")
	}
	var algDER cryptobyte.String
	if !s.ReadASN1Element(&algDER, cbasn1.SEQUENCE) {
		return nil, newDecodeError("object digest info", "malformed digest algorithm")
	}
	alg, err := parseAlgorithmIdentifier(algDER)
	if err != nil {
		return nil, err
	}
	out.DigestAlgorithm = alg
	var digest asn1.BitString
	if !s.ReadASN1BitString(&digest) || !s.Empty() {
		return nil, newDecodeError("object digest info", "malformed objectDigest")
	}
	out.Digest = digest.RightAlign()
	return out, nil
}

func readAttribute(s *cryptobyte.String) (Attribute, error) {
	var seq, values cryptobyte.String
	var attr Attribute
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) ||
		!seq.ReadASN1ObjectIdentifier(&attr.Type) ||
		!seq.ReadASN1(&values, cbasn1.SET) || !seq.Empty() {
		return Attribute{}, newDecodeError("attribute", "malformed structure")
	}
	for !values.Empty() {
		var v cryptobyte.String
		if !values.ReadAnyASN1Element(&v, nil) {
			return Attribute{}, newDecodeError("attribute", fmt.Sprintf("malformed value of %s", attr.Type))
		}
		attr.Values = append(attr.Values, append([]byte(nil), v...))
	}
	if len(attr.Values) == 0 {
		return Attribute{}, newDecodeError("attribute", fmt.Sprintf("%s has no values", attr.Type))
	}
	return attr, nil
}

// readExtensionList decodes the contents of an Extensions SEQUENCE.
func readExtensionList(s cryptobyte.String) ([]pkix.Extension, error) {
	var out []pkix.Extension
	for !s.Empty() {
		var seq cryptobyte.String
		var ext pkix.Extension
		if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !seq.ReadASN1ObjectIdentifier(&ext.Id) {
			return nil, newDecodeError("extension", "malformed structure")
		}
		if seq.PeekASN1Tag(cbasn1.BOOLEAN) && !seq.ReadASN1Boolean(&ext.Critical) {
			return nil, newDecodeError("extension", "malformed critical flag")
		}
		var value cryptobyte.String
		if !seq.ReadASN1(&value, cbasn1.OCTET_STRING) || !seq.Empty() {
			return nil, newDecodeError("extension", "malformed value")
		}
		ext.Value = append([]byte(nil), value...)
		out = append(out, ext)
	}
	return out, nil
}

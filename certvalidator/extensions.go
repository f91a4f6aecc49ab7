// Package certvalidator provides X.509 certificate path validation.
// This file contains the closed set of extensions understood by the validator.
package certvalidator

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Extension OIDs.
var (
	OIDExtensionSubjectKeyID        = asn1.ObjectIdentifier{2, 5, 29, 14}
	OIDExtensionKeyUsage            = asn1.ObjectIdentifier{2, 5, 29, 15}
	OIDExtensionSubjectAltName      = asn1.ObjectIdentifier{2, 5, 29, 17}
	OIDExtensionBasicConstraints    = asn1.ObjectIdentifier{2, 5, 29, 19}
	OIDExtensionNameConstraints     = asn1.ObjectIdentifier{2, 5, 29, 30}
	OIDExtensionCertificatePolicies = asn1.ObjectIdentifier{2, 5, 29, 32}
	OIDExtensionPolicyMappings      = asn1.ObjectIdentifier{2, 5, 29, 33}
	OIDExtensionAuthorityKeyID      = asn1.ObjectIdentifier{2, 5, 29, 35}
	OIDExtensionPolicyConstraints   = asn1.ObjectIdentifier{2, 5, 29, 36}
	OIDExtensionExtendedKeyUsage    = asn1.ObjectIdentifier{2, 5, 29, 37}
	OIDExtensionInhibitAnyPolicy    = asn1.ObjectIdentifier{2, 5, 29, 54}
	OIDExtensionTargetInformation   = asn1.ObjectIdentifier{2, 5, 29, 55}
	OIDExtensionNoRevAvail          = asn1.ObjectIdentifier{2, 5, 29, 56}
)

// ExtensionKind tags the decoded variant held by an Extension.
type ExtensionKind int

const (
	ExtensionUnknown ExtensionKind = iota
	ExtensionKeyUsage
	ExtensionExtendedKeyUsage
	ExtensionBasicConstraints
	ExtensionNameConstraints
	ExtensionCertificatePolicies
	ExtensionPolicyMappings
	ExtensionPolicyConstraints
	ExtensionInhibitAnyPolicy
	ExtensionAuthorityKeyID
	ExtensionSubjectKeyID
	ExtensionSubjectAltName
	ExtensionTargetInformation
	ExtensionNoRevAvail
)

func (k ExtensionKind) String() string {
	switch k {
	case ExtensionKeyUsage:
		return "keyUsage"
	case ExtensionExtendedKeyUsage:
		return "extKeyUsage"
	case ExtensionBasicConstraints:
		return "basicConstraints"
	case ExtensionNameConstraints:
		return "nameConstraints"
	case ExtensionCertificatePolicies:
		return "certificatePolicies"
	case ExtensionPolicyMappings:
		return "policyMappings"
	case ExtensionPolicyConstraints:
		return "policyConstraints"
	case ExtensionInhibitAnyPolicy:
		return "inhibitAnyPolicy"
	case ExtensionAuthorityKeyID:
		return "authorityKeyIdentifier"
	case ExtensionSubjectKeyID:
		return "subjectKeyIdentifier"
	case ExtensionSubjectAltName:
		return "subjectAltName"
	case ExtensionTargetInformation:
		return "targetInformation"
	case ExtensionNoRevAvail:
		return "noRevAvail"
	default:
		return "unknown"
	}
}

// ExtensionValue is implemented by every decoded extension variant.
type ExtensionValue interface {
	extensionKind() ExtensionKind
}

// Extension is a single decoded extension.
type Extension struct {
	OID      asn1.ObjectIdentifier
	Critical bool
	Kind     ExtensionKind
	// Value is nil for ExtensionUnknown.
	Value ExtensionValue
	Raw   []byte
}

// KeyUsage is the keyUsage bit set, bit 0 being digitalSignature.
type KeyUsage uint16

const (
	KeyUsageDigitalSignature KeyUsage = 1 << iota
	KeyUsageContentCommitment
	KeyUsageKeyEncipherment
	KeyUsageDataEncipherment
	KeyUsageKeyAgreement
	KeyUsageKeyCertSign
	KeyUsageCRLSign
	KeyUsageEncipherOnly
	KeyUsageDecipherOnly
)

// Has reports whether all bits of u are asserted.
func (k KeyUsage) Has(u KeyUsage) bool {
	return k&u == u
}

// ExtendedKeyUsage lists key purpose OIDs.
type ExtendedKeyUsage []asn1.ObjectIdentifier

// BasicConstraints is the basicConstraints extension.
type BasicConstraints struct {
	CA bool
	// PathLen is -1 when pathLenConstraint is absent.
	PathLen int
}

// GeneralSubtree is one entry of a name constraints subtree list.
type GeneralSubtree struct {
	Base    GeneralName
	Minimum int
	// Maximum is -1 when absent.
	Maximum int
}

// NameConstraints is the nameConstraints extension.
type NameConstraints struct {
	Permitted []GeneralSubtree
	Excluded  []GeneralSubtree
}

// PolicyQualifier is a policy qualifier kept in encoded form.
type PolicyQualifier struct {
	ID  string
	Raw []byte
}

// PolicyInformation is one policy asserted by a certificate.
type PolicyInformation struct {
	Policy     string
	Qualifiers []PolicyQualifier
}

// CertificatePolicies is the certificatePolicies extension.
type CertificatePolicies []PolicyInformation

// PolicyMapping maps an issuer domain policy to a subject domain policy.
type PolicyMapping struct {
	IssuerDomainPolicy  string
	SubjectDomainPolicy string
}

// PolicyMappings is the policyMappings extension.
type PolicyMappings []PolicyMapping

// PolicyConstraints is the policyConstraints extension; absent fields are -1.
type PolicyConstraints struct {
	RequireExplicitPolicy int
	InhibitPolicyMapping  int
}

// InhibitAnyPolicy is the inhibitAnyPolicy extension.
type InhibitAnyPolicy struct {
	SkipCerts int
}

// AuthorityKeyIdentifier is the authorityKeyIdentifier extension.
type AuthorityKeyIdentifier struct {
	KeyID  []byte
	Issuer []GeneralName
	Serial *big.Int
}

// SubjectKeyIdentifier is the subjectKeyIdentifier extension.
type SubjectKeyIdentifier []byte

// SubjectAltName is the subjectAltName extension.
type SubjectAltName []GeneralName

// TargetInformation is the RFC 5755 targeting extension, flattened across Targets sequences.
type TargetInformation []Target

// NoRevAvail is the RFC 5755 noRevAvail extension.
type NoRevAvail struct{}

func (KeyUsage) extensionKind() ExtensionKind { return ExtensionKeyUsage }
func (ExtendedKeyUsage) extensionKind() ExtensionKind { return ExtensionExtendedKeyUsage }
func (*BasicConstraints) extensionKind() ExtensionKind { return ExtensionBasicConstraints }
func (*NameConstraints) extensionKind() ExtensionKind { return ExtensionNameConstraints }
func (CertificatePolicies) extensionKind() ExtensionKind { return ExtensionCertificatePolicies }
func (PolicyMappings) extensionKind() ExtensionKind { return ExtensionPolicyMappings }
func (*PolicyConstraints) extensionKind() ExtensionKind { return ExtensionPolicyConstraints }
func (*InhibitAnyPolicy) extensionKind() ExtensionKind { return ExtensionInhibitAnyPolicy }
func (*AuthorityKeyIdentifier) extensionKind() ExtensionKind { return ExtensionAuthorityKeyID }
func (SubjectKeyIdentifier) extensionKind() ExtensionKind { return ExtensionSubjectKeyID }
func (SubjectAltName) extensionKind() ExtensionKind { return ExtensionSubjectAltName }
func (TargetInformation) extensionKind() ExtensionKind { return ExtensionTargetInformation }
func (NoRevAvail) extensionKind() ExtensionKind { return ExtensionNoRevAvail }

// Extensions is the decoded extension set of a certificate or attribute certificate.
type Extensions struct {
	list  []Extension
	index map[string]int
}

// DecodeExtensions decodes every extension exactly once. Duplicate
// identifiers and malformed values are decode errors.
func DecodeExtensions(exts []pkix.Extension) (Extensions, error) {
	out := Extensions{index: make(map[string]int, len(exts))}
	for _, ext := range exts {
		key := ext.Id.String()
		if _, dup := out.index[key]; dup {
			return Extensions{}, newDecodeError("extensions", "duplicate extension "+key)
		}
		decoded, err := decodeExtension(ext)
		if err != nil {
			return Extensions{}, err
		}
		out.index[key] = len(out.list)
		out.list = append(out.list, decoded)
	}
	return out, nil
}

// All returns the extensions in encoding order.
func (e Extensions) All() []Extension {
	return e.list
}

// Get returns the extension with the given identifier.
func (e Extensions) Get(oid asn1.ObjectIdentifier) (Extension, bool) {
	i, ok := e.index[oid.String()]
	if !ok {
		return Extension{}, false
	}
	return e.list[i], true
}

// Has reports whether an extension with the given identifier is present.
func (e Extensions) Has(oid asn1.ObjectIdentifier) bool {
	_, ok := e.index[oid.String()]
	return ok
}

// IsCritical reports whether the extension is present and marked critical.
func (e Extensions) IsCritical(oid asn1.ObjectIdentifier) bool {
	ext, ok := e.Get(oid)
	return ok && ext.Critical
}

// UnrecognizedCritical returns critical extensions the validator does not understand.
func (e Extensions) UnrecognizedCritical() []Extension {
	var out []Extension
	for _, ext := range e.list {
		if ext.Critical && ext.Kind == ExtensionUnknown {
			out = append(out, ext)
		}
	}
	return out
}

func (e Extensions) value(oid asn1.ObjectIdentifier) ExtensionValue {
	ext, ok := e.Get(oid)
	if !ok {
		return nil
	}
	return ext.Value
}

func (e Extensions) KeyUsage() (KeyUsage, bool) {
	v, ok := e.value(OIDExtensionKeyUsage).(KeyUsage)
	return v, ok
}

func (e Extensions) ExtendedKeyUsage() (ExtendedKeyUsage, bool) {
	v, ok := e.value(OIDExtensionExtendedKeyUsage).(ExtendedKeyUsage)
	return v, ok
}

func (e Extensions) BasicConstraints() (*BasicConstraints, bool) {
	v, ok := e.value(OIDExtensionBasicConstraints).(*BasicConstraints)
	return v, ok
}

func (e Extensions) NameConstraints() (*NameConstraints, bool) {
	v, ok := e.value(OIDExtensionNameConstraints).(*NameConstraints)
	return v, ok
}

func (e Extensions) CertificatePolicies() (CertificatePolicies, bool) {
	v, ok := e.value(OIDExtensionCertificatePolicies).(CertificatePolicies)
	return v, ok
}

func (e Extensions) PolicyMappings() (PolicyMappings, bool) {
	v, ok := e.value(OIDExtensionPolicyMappings).(PolicyMappings)
	return v, ok
}

func (e Extensions) PolicyConstraints() (*PolicyConstraints, bool) {
	v, ok := e.value(OIDExtensionPolicyConstraints).(*PolicyConstraints)
	return v, ok
}

func (e Extensions) InhibitAnyPolicy() (*InhibitAnyPolicy, bool) {
	v, ok := e.value(OIDExtensionInhibitAnyPolicy).(*InhibitAnyPolicy)
	return v, ok
}

func (e Extensions) AuthorityKeyID() (*AuthorityKeyIdentifier, bool) {
	v, ok := e.value(OIDExtensionAuthorityKeyID).(*AuthorityKeyIdentifier)
	return v, ok
}

func (e Extensions) SubjectKeyID() (SubjectKeyIdentifier, bool) {
	v, ok := e.value(OIDExtensionSubjectKeyID).(SubjectKeyIdentifier)
	return v, ok
}

func (e Extensions) SubjectAltName() (SubjectAltName, bool) {
	v, ok := e.value(OIDExtensionSubjectAltName).(SubjectAltName)
	return v, ok
}

func (e Extensions) TargetInformation() (TargetInformation, bool) {
	v, ok := e.value(OIDExtensionTargetInformation).(TargetInformation)
	return v, ok
}

type extensionDecoder func(cryptobyte.String) (ExtensionValue, error)

var extensionDecoders = map[string]extensionDecoder{
	OIDExtensionKeyUsage.String():            decodeKeyUsage,
	OIDExtensionExtendedKeyUsage.String():    decodeExtendedKeyUsage,
	OIDExtensionBasicConstraints.String():    decodeBasicConstraints,
	OIDExtensionNameConstraints.String():     decodeNameConstraints,
	OIDExtensionCertificatePolicies.String(): decodeCertificatePolicies,
	OIDExtensionPolicyMappings.String():      decodePolicyMappings,
	OIDExtensionPolicyConstraints.String():   decodePolicyConstraints,
	OIDExtensionInhibitAnyPolicy.String():    decodeInhibitAnyPolicy,
	OIDExtensionAuthorityKeyID.String():      decodeAuthorityKeyID,
	OIDExtensionSubjectKeyID.String():        decodeSubjectKeyID,
	OIDExtensionSubjectAltName.String():      decodeSubjectAltName,
	OIDExtensionTargetInformation.String():   decodeTargetInformation,
	OIDExtensionNoRevAvail.String():          decodeNoRevAvail,
}

func decodeExtension(ext pkix.Extension) (Extension, error) {
	out := Extension{
		OID:      ext.Id,
		Critical: ext.Critical,
		Raw:      append([]byte(nil), ext.Value...),
	}
	dec, ok := extensionDecoders[ext.Id.String()]
	if !ok {
		return out, nil
	}
	value, err := dec(cryptobyte.String(ext.Value))
	if err != nil {
		if de, ok := err.(*DecodeError); ok && de.Structure == "" {
			de.Structure = "extension " + ext.Id.String()
			return Extension{}, de
		}
		return Extension{}, wrapDecodeError("extension "+ext.Id.String(), err)
	}
	out.Value = value
	out.Kind = value.extensionKind()
	return out, nil
}

func errMalformed(what string) error {
	return newDecodeError("", "malformed "+what)
}

func decodeKeyUsage(s cryptobyte.String) (ExtensionValue, error) {
	var bits asn1.BitString
	if !s.ReadASN1BitString(&bits) || !s.Empty() {
		return nil, errMalformed("key usage")
	}
	var ku KeyUsage
	for i := 0; i < 9; i++ {
		if bits.At(i) != 0 {
			ku |= 1 << uint(i)
		}
	}
	return ku, nil
}

func decodeExtendedKeyUsage(s cryptobyte.String) (ExtensionValue, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() {
		return nil, errMalformed("extended key usage")
	}
	var out ExtendedKeyUsage
	for !seq.Empty() {
		var oid asn1.ObjectIdentifier
		if !seq.ReadASN1ObjectIdentifier(&oid) {
			return nil, errMalformed("extended key usage purpose")
		}
		out = append(out, oid)
	}
	return out, nil
}

func decodeBasicConstraints(s cryptobyte.String) (ExtensionValue, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() {
		return nil, errMalformed("basic constraints")
	}
	bc := &BasicConstraints{PathLen: -1}
	if seq.PeekASN1Tag(cbasn1.BOOLEAN) {
		if !seq.ReadASN1Boolean(&bc.CA) {
			return nil, errMalformed("basic constraints cA")
		}
	}
	if seq.PeekASN1Tag(cbasn1.INTEGER) {
		if !seq.ReadASN1Integer(&bc.PathLen) || bc.PathLen < 0 {
			return nil, errMalformed("basic constraints pathLenConstraint")
		}
		if !bc.CA {
			return nil, newDecodeError("", "pathLenConstraint present without cA")
		}
	}
	if !seq.Empty() {
		return nil, errMalformed("basic constraints")
	}
	return bc, nil
}

var (
	tagContext0Constructed = cbasn1.Tag(0).ContextSpecific().Constructed()
	tagContext1Constructed = cbasn1.Tag(1).ContextSpecific().Constructed()
	tagContext0            = cbasn1.Tag(0).ContextSpecific()
	tagContext1            = cbasn1.Tag(1).ContextSpecific()
	tagContext2            = cbasn1.Tag(2).ContextSpecific()
)

// readImplicitInteger reads an optional [tag] IMPLICIT INTEGER into out.
func readImplicitInteger(s *cryptobyte.String, tag cbasn1.Tag, out interface{}) (present bool, ok bool) {
	var content cryptobyte.String
	if !s.ReadOptionalASN1(&content, &present, tag) {
		return false, false
	}
	if !present {
		return false, true
	}
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.INTEGER, func(c *cryptobyte.Builder) { c.AddBytes(content) })
	der, err := b.Bytes()
	if err != nil {
		return true, false
	}
	in := cryptobyte.String(der)
	return true, in.ReadASN1Integer(out)
}

func decodeNameConstraints(s cryptobyte.String) (ExtensionValue, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() {
		return nil, errMalformed("name constraints")
	}
	nc := &NameConstraints{}
	var permitted, excluded cryptobyte.String
	var hasPermitted, hasExcluded bool
	if !seq.ReadOptionalASN1(&permitted, &hasPermitted, tagContext0Constructed) ||
		!seq.ReadOptionalASN1(&excluded, &hasExcluded, tagContext1Constructed) ||
		!seq.Empty() {
		return nil, errMalformed("name constraints")
	}
	if !hasPermitted && !hasExcluded {
		return nil, newDecodeError("", "name constraints without permitted or excluded subtrees")
	}
	var err error
	if hasPermitted {
		if nc.Permitted, err = decodeGeneralSubtrees(permitted); err != nil {
			return nil, err
		}
	}
	if hasExcluded {
		if nc.Excluded, err = decodeGeneralSubtrees(excluded); err != nil {
			return nil, err
		}
	}
	return nc, nil
}

func decodeGeneralSubtrees(s cryptobyte.String) ([]GeneralSubtree, error) {
	if s.Empty() {
		return nil, errMalformed("empty general subtrees")
	}
	var out []GeneralSubtree
	for !s.Empty() {
		var st cryptobyte.String
		if !s.ReadASN1(&st, cbasn1.SEQUENCE) {
			return nil, errMalformed("general subtree")
		}
		base, err := readGeneralName(&st)
		if err != nil {
			return nil, err
		}
		sub := GeneralSubtree{Base: base, Maximum: -1}
		if _, ok := readImplicitInteger(&st, tagContext0, &sub.Minimum); !ok {
			return nil, errMalformed("general subtree minimum")
		}
		if _, ok := readImplicitInteger(&st, tagContext1, &sub.Maximum); !ok {
			return nil, errMalformed("general subtree maximum")
		}
		if !st.Empty() {
			return nil, errMalformed("general subtree")
		}
		if sub.Minimum != 0 || sub.Maximum != -1 {
			return nil, newDecodeError("", "general subtree minimum must be zero and maximum absent")
		}
		out = append(out, sub)
	}
	return out, nil
}

func decodeCertificatePolicies(s cryptobyte.String) (ExtensionValue, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() || seq.Empty() {
		return nil, errMalformed("certificate policies")
	}
	var out CertificatePolicies
	seen := make(map[string]bool)
	for !seq.Empty() {
		var info cryptobyte.String
		var oid asn1.ObjectIdentifier
		if !seq.ReadASN1(&info, cbasn1.SEQUENCE) || !info.ReadASN1ObjectIdentifier(&oid) {
			return nil, errMalformed("policy information")
		}
		pi := PolicyInformation{Policy: oid.String()}
		if seen[pi.Policy] {
			return nil, newDecodeError("", "policy "+pi.Policy+" asserted more than once")
		}
		seen[pi.Policy] = true
		if !info.Empty() {
			var quals cryptobyte.String
			if !info.ReadASN1(&quals, cbasn1.SEQUENCE) || !info.Empty() {
				return nil, errMalformed("policy qualifiers")
			}
			for !quals.Empty() {
				var q, rest cryptobyte.String
				var qid asn1.ObjectIdentifier
				if !quals.ReadASN1Element(&q, cbasn1.SEQUENCE) {
					return nil, errMalformed("policy qualifier")
				}
				raw := append([]byte(nil), q...)
				if !q.ReadASN1(&rest, cbasn1.SEQUENCE) || !rest.ReadASN1ObjectIdentifier(&qid) {
					return nil, errMalformed("policy qualifier")
				}
				pi.Qualifiers = append(pi.Qualifiers, PolicyQualifier{ID: qid.String(), Raw: raw})
			}
		}
		out = append(out, pi)
	}
	return out, nil
}

func decodePolicyMappings(s cryptobyte.String) (ExtensionValue, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() || seq.Empty() {
		return nil, errMalformed("policy mappings")
	}
	var out PolicyMappings
	for !seq.Empty() {
		var m cryptobyte.String
		var issuer, subject asn1.ObjectIdentifier
		if !seq.ReadASN1(&m, cbasn1.SEQUENCE) ||
			!m.ReadASN1ObjectIdentifier(&issuer) ||
			!m.ReadASN1ObjectIdentifier(&subject) ||
			!m.Empty() {
			return nil, errMalformed("policy mapping")
		}
		pm := PolicyMapping{IssuerDomainPolicy: issuer.String(), SubjectDomainPolicy: subject.String()}
		if pm.IssuerDomainPolicy == AnyPolicy || pm.SubjectDomainPolicy == AnyPolicy {
			return nil, newDecodeError("", "anyPolicy must not be mapped")
		}
		out = append(out, pm)
	}
	return out, nil
}

func decodePolicyConstraints(s cryptobyte.String) (ExtensionValue, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() {
		return nil, errMalformed("policy constraints")
	}
	pc := &PolicyConstraints{RequireExplicitPolicy: -1, InhibitPolicyMapping: -1}
	hasRequire, ok := readImplicitInteger(&seq, tagContext0, &pc.RequireExplicitPolicy)
	if !ok || (hasRequire && pc.RequireExplicitPolicy < 0) {
		return nil, errMalformed("requireExplicitPolicy")
	}
	hasInhibit, ok := readImplicitInteger(&seq, tagContext1, &pc.InhibitPolicyMapping)
	if !ok || (hasInhibit && pc.InhibitPolicyMapping < 0) {
		return nil, errMalformed("inhibitPolicyMapping")
	}
	if !seq.Empty() {
		return nil, errMalformed("policy constraints")
	}
	if !hasRequire && !hasInhibit {
		return nil, newDecodeError("", "empty policy constraints")
	}
	return pc, nil
}

func decodeInhibitAnyPolicy(s cryptobyte.String) (ExtensionValue, error) {
	iap := &InhibitAnyPolicy{}
	if !s.ReadASN1Integer(&iap.SkipCerts) || !s.Empty() || iap.SkipCerts < 0 {
		return nil, errMalformed("inhibit anyPolicy")
	}
	return iap, nil
}

func decodeAuthorityKeyID(s cryptobyte.String) (ExtensionValue, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() {
		return nil, errMalformed("authority key identifier")
	}
	aki := &AuthorityKeyIdentifier{}
	var keyID, issuer cryptobyte.String
	var hasKeyID, hasIssuer bool
	if !seq.ReadOptionalASN1(&keyID, &hasKeyID, tagContext0) ||
		!seq.ReadOptionalASN1(&issuer, &hasIssuer, tagContext1Constructed) {
		return nil, errMalformed("authority key identifier")
	}
	if hasKeyID {
		aki.KeyID = append([]byte(nil), keyID...)
	}
	if hasIssuer {
		names, err := parseGeneralNameList(issuer)
		if err != nil {
			return nil, err
		}
		aki.Issuer = names
	}
	serial := new(big.Int)
	hasSerial, ok := readImplicitInteger(&seq, tagContext2, serial)
	if !ok || !seq.Empty() {
		return nil, errMalformed("authority key identifier")
	}
	if hasSerial {
		aki.Serial = serial
	}
	if hasIssuer != hasSerial {
		return nil, newDecodeError("", "authorityCertIssuer and authorityCertSerialNumber must appear together")
	}
	return aki, nil
}

func decodeSubjectKeyID(s cryptobyte.String) (ExtensionValue, error) {
	var id cryptobyte.String
	if !s.ReadASN1(&id, cbasn1.OCTET_STRING) || !s.Empty() {
		return nil, errMalformed("subject key identifier")
	}
	return SubjectKeyIdentifier(append([]byte(nil), id...)), nil
}

func decodeSubjectAltName(s cryptobyte.String) (ExtensionValue, error) {
	names, err := parseGeneralNames(s)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errMalformed("empty subject alternative name")
	}
	return SubjectAltName(names), nil
}

func decodeTargetInformation(s cryptobyte.String) (ExtensionValue, error) {
	var seq cryptobyte.String
	if !s.ReadASN1(&seq, cbasn1.SEQUENCE) || !s.Empty() {
		return nil, errMalformed("target information")
	}
	var out TargetInformation
	for !seq.Empty() {
		var targets cryptobyte.String
		if !seq.ReadASN1(&targets, cbasn1.SEQUENCE) {
			return nil, errMalformed("targets")
		}
		for !targets.Empty() {
			t, err := readTarget(&targets)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func readTarget(s *cryptobyte.String) (Target, error) {
	var elem cryptobyte.String
	var tag cbasn1.Tag
	if !s.ReadAnyASN1Element(&elem, &tag) {
		return Target{}, errMalformed("target")
	}
	raw := append([]byte(nil), elem...)
	var content cryptobyte.String
	if !elem.ReadAnyASN1(&content, &tag) {
		return Target{}, errMalformed("target")
	}
	switch tag {
	case tagContext0Constructed, tagContext1Constructed:
		name, err := readGeneralName(&content)
		if err != nil {
			return Target{}, err
		}
		if !content.Empty() {
			return Target{}, errMalformed("target name")
		}
		kind := TargetKindName
		if tag == tagContext1Constructed {
			kind = TargetKindGroup
		}
		return Target{Kind: kind, Name: name, Raw: raw}, nil
	case cbasn1.Tag(2).ContextSpecific().Constructed():
		return Target{Kind: TargetKindCert, Raw: raw}, nil
	default:
		return Target{}, newDecodeError("", fmt.Sprintf("unknown target choice tag 0x%02x", uint8(tag)))
	}
}

func decodeNoRevAvail(s cryptobyte.String) (ExtensionValue, error) {
	var null cryptobyte.String
	if !s.ReadASN1(&null, cbasn1.NULL) || !s.Empty() || !null.Empty() {
		return nil, errMalformed("noRevAvail")
	}
	return NoRevAvail{}, nil
}

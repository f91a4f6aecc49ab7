// Package certvalidator provides X.509 certificate path validation.
// This file contains the immutable certificate model consumed by the builder and validator.
package certvalidator

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// PublicKeyInfo is a decoded SubjectPublicKeyInfo.
type PublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	// PublicKey is the content of the subjectPublicKey BIT STRING.
	PublicKey []byte
	Raw       []byte
}

// ParsePublicKeyInfo decodes a DER encoded SubjectPublicKeyInfo.
func ParsePublicKeyInfo(der []byte) (PublicKeyInfo, error) {
	input := cryptobyte.String(der)
	var spki, algDER cryptobyte.String
	var key asn1.BitString
	if !input.ReadASN1(&spki, cbasn1.SEQUENCE) || !input.Empty() ||
		!spki.ReadASN1Element(&algDER, cbasn1.SEQUENCE) ||
		!spki.ReadASN1BitString(&key) || !spki.Empty() {
		return PublicKeyInfo{}, newDecodeError("subject public key info", "malformed structure")
	}
	alg, err := parseAlgorithmIdentifier(algDER)
	if err != nil {
		return PublicKeyInfo{}, err
	}
	if key.BitLength%8 != 0 {
		return PublicKeyInfo{}, newDecodeError("subject public key info", "public key is not octet aligned")
	}
	return PublicKeyInfo{
		Algorithm: alg,
		PublicKey: append([]byte(nil), key.Bytes...),
		Raw:       append([]byte(nil), der...),
	}, nil
}

func parseAlgorithmIdentifier(der []byte) (pkix.AlgorithmIdentifier, error) {
	var ai pkix.AlgorithmIdentifier
	rest, err := asn1.Unmarshal(der, &ai)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, wrapDecodeError("algorithm identifier", err)
	}
	if len(rest) > 0 {
		return pkix.AlgorithmIdentifier{}, newDecodeError("algorithm identifier", "trailing data")
	}
	return ai, nil
}

// Certificate is an immutable X.509 certificate with its extensions decoded once.
type Certificate struct {
	cert        *x509.Certificate
	tbs         []byte
	subject     Name
	issuer      Name
	spki        PublicKeyInfo
	sigAlg      pkix.AlgorithmIdentifier
	signature   []byte
	exts        Extensions
	fingerprint [32]byte
}

// ParseCertificate decodes a single DER encoded certificate. Trailing data,
// duplicate extensions and malformed extension values are rejected.
func ParseCertificate(der []byte) (*Certificate, error) {
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, wrapDecodeError("certificate", err)
	}
	return NewCertificate(c)
}

// NewCertificate builds a Certificate from an already parsed x509.Certificate.
func NewCertificate(c *x509.Certificate) (*Certificate, error) {
	if c == nil || len(c.Raw) == 0 {
		return nil, newDecodeError("certificate", "no encoding available")
	}
	input := cryptobyte.String(c.Raw)
	var outer, tbs, algDER cryptobyte.String
	var sig asn1.BitString
	if !input.ReadASN1(&outer, cbasn1.SEQUENCE) || !input.Empty() ||
		!outer.ReadASN1Element(&tbs, cbasn1.SEQUENCE) ||
		!outer.ReadASN1Element(&algDER, cbasn1.SEQUENCE) ||
		!outer.ReadASN1BitString(&sig) || !outer.Empty() {
		return nil, newDecodeError("certificate", "malformed outer structure")
	}
	alg, err := parseAlgorithmIdentifier(algDER)
	if err != nil {
		return nil, err
	}
	subject, err := ParseName(c.RawSubject)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	issuer, err := ParseName(c.RawIssuer)
	if err != nil {
		return nil, fmt.Errorf("issuer: %w", err)
	}
	spki, err := ParsePublicKeyInfo(c.RawSubjectPublicKeyInfo)
	if err != nil {
		return nil, err
	}
	exts, err := DecodeExtensions(c.Extensions)
	if err != nil {
		return nil, err
	}
	return &Certificate{
		cert:        c,
		tbs:         []byte(tbs),
		subject:     subject,
		issuer:      issuer,
		spki:        spki,
		sigAlg:      alg,
		signature:   sig.RightAlign(),
		exts:        exts,
		fingerprint: sha256.Sum256(c.Raw),
	}, nil
}

// MustParseCertificate is like ParseCertificate but panics on error.
func MustParseCertificate(der []byte) *Certificate {
	c, err := ParseCertificate(der)
	if err != nil {
		panic(err)
	}
	return c
}

// Raw returns the complete DER encoding.
func (c *Certificate) Raw() []byte { return c.cert.Raw }

// SignedBody returns the exact TBSCertificate bytes covered by the signature.
func (c *Certificate) SignedBody() []byte { return c.tbs }

func (c *Certificate) Subject() Name { return c.subject }

func (c *Certificate) Issuer() Name { return c.issuer }

func (c *Certificate) NotBefore() time.Time { return c.cert.NotBefore }

func (c *Certificate) NotAfter() time.Time { return c.cert.NotAfter }

func (c *Certificate) SerialNumber() *big.Int { return c.cert.SerialNumber }

func (c *Certificate) PublicKeyInfo() PublicKeyInfo { return c.spki }

func (c *Certificate) SignatureAlgorithm() pkix.AlgorithmIdentifier { return c.sigAlg }

func (c *Certificate) Signature() []byte { return c.signature }

func (c *Certificate) Extensions() Extensions { return c.exts }

// X509 returns the standard library view of the certificate.
func (c *Certificate) X509() *x509.Certificate { return c.cert }

// Fingerprint returns the SHA-256 digest of the DER encoding.
func (c *Certificate) Fingerprint() [32]byte { return c.fingerprint }

// FingerprintHex returns the fingerprint as lowercase hex.
func (c *Certificate) FingerprintHex() string {
	return hex.EncodeToString(c.fingerprint[:])
}

// Equal compares certificates by their encoding.
func (c *Certificate) Equal(other *Certificate) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.fingerprint == other.fingerprint && bytes.Equal(c.cert.Raw, other.cert.Raw)
}

// IsSelfIssued reports whether the issuer and subject names match.
func (c *Certificate) IsSelfIssued() bool {
	return c.issuer.Equal(c.subject)
}

// IsCA reports whether basic constraints assert cA.
func (c *Certificate) IsCA() bool {
	bc, ok := c.exts.BasicConstraints()
	return ok && bc.CA
}

// SubjectKeyID returns the subject key identifier, or nil.
func (c *Certificate) SubjectKeyID() []byte {
	ski, _ := c.exts.SubjectKeyID()
	return ski
}

// AuthorityKeyID returns the keyIdentifier of the authority key identifier, or nil.
func (c *Certificate) AuthorityKeyID() []byte {
	if aki, ok := c.exts.AuthorityKeyID(); ok {
		return aki.KeyID
	}
	return nil
}

// String describes the certificate for logs and error messages.
func (c *Certificate) String() string {
	return fmt.Sprintf("%s (serial %s, issued by %s)", c.subject, c.cert.SerialNumber, c.issuer)
}

// Package certvalidator provides X.509 certificate path validation.
// This file contains the signature verification collaborator.
package certvalidator

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/cloudflare/circl/sign/ed448"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// ErrAlgorithmNotSupported is returned when an algorithm or algorithm/key
// combination cannot be verified.
var ErrAlgorithmNotSupported = errors.New("algorithm not supported")

// ErrWeakAlgorithm is returned when the digest algorithm has been disallowed.
var ErrWeakAlgorithm = errors.New("signature digest algorithm disallowed")

// SignatureAlgorithm represents a signature scheme family.
type SignatureAlgorithm int

const (
	SigAlgoUnknown SignatureAlgorithm = iota
	SigAlgoRSAPKCS1v15
	SigAlgoRSAPSS
	SigAlgoDSA
	SigAlgoECDSA
	SigAlgoEd25519
	SigAlgoEd448
	SigAlgoMLDSA44
	SigAlgoMLDSA65
	SigAlgoMLDSA87
)

// String returns the string representation of the signature algorithm.
func (a SignatureAlgorithm) String() string {
	switch a {
	case SigAlgoRSAPKCS1v15:
		return "rsassa_pkcs1v15"
	case SigAlgoRSAPSS:
		return "rsassa_pss"
	case SigAlgoDSA:
		return "dsa"
	case SigAlgoECDSA:
		return "ecdsa"
	case SigAlgoEd25519:
		return "ed25519"
	case SigAlgoEd448:
		return "ed448"
	case SigAlgoMLDSA44:
		return "ml-dsa-44"
	case SigAlgoMLDSA65:
		return "ml-dsa-65"
	case SigAlgoMLDSA87:
		return "ml-dsa-87"
	default:
		return "unknown"
	}
}

// OIDs for signature and key algorithms
var (
	OIDRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDRSAWithMD5    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 4}
	OIDRSAWithSHA1   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}
	OIDRSAWithSHA224 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 14}
	OIDRSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDRSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDRSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDRSAPSS        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	OIDMGF1          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 8}

	OIDDSA           = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 1}
	OIDDSAWithSHA1   = asn1.ObjectIdentifier{1, 2, 840, 10040, 4, 3}
	OIDDSAWithSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 2}

	OIDECPublicKey     = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	OIDECDSAWithSHA1   = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 1}
	OIDECDSAWithSHA224 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 1}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	OIDEd25519 = asn1.ObjectIdentifier{1, 3, 101, 112}
	OIDEd448   = asn1.ObjectIdentifier{1, 3, 101, 113}

	OIDMLDSA44 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 17}
	OIDMLDSA65 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 18}
	OIDMLDSA87 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 19}

	OIDSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA224 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// GetSignatureAlgorithmFromOID returns the signature scheme for a signature algorithm OID.
func GetSignatureAlgorithmFromOID(oid asn1.ObjectIdentifier) SignatureAlgorithm {
	switch {
	case oid.Equal(OIDRSAWithMD5), oid.Equal(OIDRSAWithSHA1), oid.Equal(OIDRSAWithSHA224),
		oid.Equal(OIDRSAWithSHA256), oid.Equal(OIDRSAWithSHA384), oid.Equal(OIDRSAWithSHA512):
		return SigAlgoRSAPKCS1v15
	case oid.Equal(OIDRSAPSS):
		return SigAlgoRSAPSS
	case oid.Equal(OIDDSAWithSHA1), oid.Equal(OIDDSAWithSHA256):
		return SigAlgoDSA
	case oid.Equal(OIDECDSAWithSHA1), oid.Equal(OIDECDSAWithSHA224), oid.Equal(OIDECDSAWithSHA256),
		oid.Equal(OIDECDSAWithSHA384), oid.Equal(OIDECDSAWithSHA512):
		return SigAlgoECDSA
	case oid.Equal(OIDEd25519):
		return SigAlgoEd25519
	case oid.Equal(OIDEd448):
		return SigAlgoEd448
	case oid.Equal(OIDMLDSA44):
		return SigAlgoMLDSA44
	case oid.Equal(OIDMLDSA65):
		return SigAlgoMLDSA65
	case oid.Equal(OIDMLDSA87):
		return SigAlgoMLDSA87
	default:
		return SigAlgoUnknown
	}
}

// GetHashAlgorithmFromOID returns the hash algorithm for a digest OID.
func GetHashAlgorithmFromOID(oid asn1.ObjectIdentifier) crypto.Hash {
	switch {
	case oid.Equal(OIDSHA1):
		return crypto.SHA1
	case oid.Equal(OIDSHA224):
		return crypto.SHA224
	case oid.Equal(OIDSHA256):
		return crypto.SHA256
	case oid.Equal(OIDSHA384):
		return crypto.SHA384
	case oid.Equal(OIDSHA512):
		return crypto.SHA512
	default:
		return 0
	}
}

// GetHashAlgorithmFromSigOID extracts the digest from a signature algorithm OID.
func GetHashAlgorithmFromSigOID(oid asn1.ObjectIdentifier) crypto.Hash {
	switch {
	case oid.Equal(OIDRSAWithMD5):
		return crypto.MD5
	case oid.Equal(OIDRSAWithSHA1), oid.Equal(OIDDSAWithSHA1), oid.Equal(OIDECDSAWithSHA1):
		return crypto.SHA1
	case oid.Equal(OIDRSAWithSHA224), oid.Equal(OIDECDSAWithSHA224):
		return crypto.SHA224
	case oid.Equal(OIDRSAWithSHA256), oid.Equal(OIDDSAWithSHA256), oid.Equal(OIDECDSAWithSHA256):
		return crypto.SHA256
	case oid.Equal(OIDRSAWithSHA384), oid.Equal(OIDECDSAWithSHA384):
		return crypto.SHA384
	case oid.Equal(OIDRSAWithSHA512), oid.Equal(OIDECDSAWithSHA512):
		return crypto.SHA512
	default:
		return 0
	}
}

// Verifier checks signatures over raw data. Verify returns false with a nil
// error for a well-formed signature that does not verify, and an error
// wrapping ErrAlgorithmNotSupported when the algorithm or key type cannot be
// handled.
type Verifier interface {
	Verify(data, signature []byte, key PublicKeyInfo, alg pkix.AlgorithmIdentifier) (bool, error)
}

// DefaultVerifier verifies RSA, RSA-PSS, DSA, ECDSA, Ed25519, Ed448 and ML-DSA signatures.
type DefaultVerifier struct {
	// DisallowWeakHashes rejects MD5 and SHA-1 based signatures.
	DisallowWeakHashes bool
}

// NewDefaultVerifier creates a new default verifier.
func NewDefaultVerifier() *DefaultVerifier {
	return &DefaultVerifier{}
}

// Verify implements Verifier.
func (v *DefaultVerifier) Verify(data, signature []byte, key PublicKeyInfo, alg pkix.AlgorithmIdentifier) (bool, error) {
	scheme := GetSignatureAlgorithmFromOID(alg.Algorithm)
	switch scheme {
	case SigAlgoRSAPKCS1v15, SigAlgoDSA, SigAlgoECDSA:
		hash := GetHashAlgorithmFromSigOID(alg.Algorithm)
		if err := v.checkHash(hash); err != nil {
			return false, err
		}
		pub, err := x509.ParsePKIXPublicKey(key.Raw)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrAlgorithmNotSupported, err)
		}
		digest, err := digestOf(hash, data)
		if err != nil {
			return false, err
		}
		switch scheme {
		case SigAlgoRSAPKCS1v15:
			return verifyRSAPKCS1v15(pub, hash, digest, signature)
		case SigAlgoDSA:
			return verifyDSA(pub, digest, signature)
		default:
			return verifyECDSA(pub, digest, signature)
		}

	case SigAlgoRSAPSS:
		return v.verifyRSAPSS(data, signature, key, alg)

	case SigAlgoEd25519:
		if !key.Algorithm.Algorithm.Equal(OIDEd25519) || len(key.PublicKey) != ed25519.PublicKeySize {
			return false, fmt.Errorf("%w: Ed25519 signature with %s key", ErrAlgorithmNotSupported, key.Algorithm.Algorithm)
		}
		return ed25519.Verify(ed25519.PublicKey(key.PublicKey), data, signature), nil

	case SigAlgoEd448:
		if !key.Algorithm.Algorithm.Equal(OIDEd448) || len(key.PublicKey) != ed448.PublicKeySize {
			return false, fmt.Errorf("%w: Ed448 signature with %s key", ErrAlgorithmNotSupported, key.Algorithm.Algorithm)
		}
		return ed448.Verify(ed448.PublicKey(key.PublicKey), data, signature, ""), nil

	case SigAlgoMLDSA44, SigAlgoMLDSA65, SigAlgoMLDSA87:
		if !key.Algorithm.Algorithm.Equal(alg.Algorithm) {
			return false, fmt.Errorf("%w: %s signature with %s key", ErrAlgorithmNotSupported, scheme, key.Algorithm.Algorithm)
		}
		return verifyMLDSA(scheme, key.PublicKey, data, signature)

	default:
		return false, fmt.Errorf("%w: %s", ErrAlgorithmNotSupported, alg.Algorithm)
	}
}

func (v *DefaultVerifier) checkHash(hash crypto.Hash) error {
	if hash == 0 || !hash.Available() {
		return fmt.Errorf("%w: digest unavailable", ErrAlgorithmNotSupported)
	}
	if v.DisallowWeakHashes && (hash == crypto.MD5 || hash == crypto.SHA1) {
		return fmt.Errorf("%w: %s", ErrWeakAlgorithm, hash)
	}
	return nil
}

func digestOf(hash crypto.Hash, data []byte) ([]byte, error) {
	if hash == 0 || !hash.Available() {
		return nil, fmt.Errorf("%w: digest unavailable", ErrAlgorithmNotSupported)
	}
	h := hash.New()
	h.Write(data)
	return h.Sum(nil), nil
}

func verifyRSAPKCS1v15(pub crypto.PublicKey, hash crypto.Hash, digest, signature []byte) (bool, error) {
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("%w: expected RSA public key, got %T", ErrAlgorithmNotSupported, pub)
	}
	return rsa.VerifyPKCS1v15(rsaKey, hash, digest, signature) == nil, nil
}

// RSAPSSParams represents RSASSA-PSS-params.
type RSAPSSParams struct {
	HashAlgorithm    pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:0"`
	MaskGenAlgorithm pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:1"`
	SaltLength       int                      `asn1:"optional,explicit,tag:2,default:20"`
	TrailerField     int                      `asn1:"optional,explicit,tag:3,default:1"`
}

func (v *DefaultVerifier) verifyRSAPSS(data, signature []byte, key PublicKeyInfo, alg pkix.AlgorithmIdentifier) (bool, error) {
	params := RSAPSSParams{SaltLength: 20, TrailerField: 1}
	if len(alg.Parameters.FullBytes) > 0 {
		if _, err := asn1.Unmarshal(alg.Parameters.FullBytes, &params); err != nil {
			return false, fmt.Errorf("%w: malformed PSS parameters: %v", ErrAlgorithmNotSupported, err)
		}
	}
	hash := crypto.SHA1
	if len(params.HashAlgorithm.Algorithm) > 0 {
		hash = GetHashAlgorithmFromOID(params.HashAlgorithm.Algorithm)
	}
	if err := v.checkHash(hash); err != nil {
		return false, err
	}
	if len(params.MaskGenAlgorithm.Algorithm) > 0 {
		var mgfHash pkix.AlgorithmIdentifier
		if !params.MaskGenAlgorithm.Algorithm.Equal(OIDMGF1) {
			return false, fmt.Errorf("%w: mask generation %s", ErrAlgorithmNotSupported, params.MaskGenAlgorithm.Algorithm)
		}
		if _, err := asn1.Unmarshal(params.MaskGenAlgorithm.Parameters.FullBytes, &mgfHash); err != nil ||
			GetHashAlgorithmFromOID(mgfHash.Algorithm) != hash {
			return false, fmt.Errorf("%w: MGF1 digest differs from message digest", ErrAlgorithmNotSupported)
		}
	}
	if params.TrailerField != 1 {
		return false, fmt.Errorf("%w: PSS trailer field %d", ErrAlgorithmNotSupported, params.TrailerField)
	}
	pub, err := x509.ParsePKIXPublicKey(key.Raw)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAlgorithmNotSupported, err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("%w: expected RSA public key, got %T", ErrAlgorithmNotSupported, pub)
	}
	digest, err := digestOf(hash, data)
	if err != nil {
		return false, err
	}
	opts := &rsa.PSSOptions{SaltLength: params.SaltLength, Hash: hash}
	return rsa.VerifyPSS(rsaKey, hash, digest, signature, opts) == nil, nil
}

func verifyDSA(pub crypto.PublicKey, digest, signature []byte) (bool, error) {
	dsaKey, ok := pub.(*dsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("%w: expected DSA public key, got %T", ErrAlgorithmNotSupported, pub)
	}
	var sig struct{ R, S *big.Int }
	if rest, err := asn1.Unmarshal(signature, &sig); err != nil || len(rest) > 0 {
		return false, nil
	}
	return dsa.Verify(dsaKey, digest, sig.R, sig.S), nil
}

func verifyECDSA(pub crypto.PublicKey, digest, signature []byte) (bool, error) {
	ecKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("%w: expected ECDSA public key, got %T", ErrAlgorithmNotSupported, pub)
	}
	return ecdsa.VerifyASN1(ecKey, digest, signature), nil
}

func verifyMLDSA(scheme SignatureAlgorithm, rawKey, data, signature []byte) (bool, error) {
	switch scheme {
	case SigAlgoMLDSA44:
		var pk mldsa44.PublicKey
		if err := pk.UnmarshalBinary(rawKey); err != nil {
			return false, fmt.Errorf("%w: ML-DSA-44 key: %v", ErrAlgorithmNotSupported, err)
		}
		return mldsa44.Verify(&pk, data, nil, signature), nil
	case SigAlgoMLDSA65:
		var pk mldsa65.PublicKey
		if err := pk.UnmarshalBinary(rawKey); err != nil {
			return false, fmt.Errorf("%w: ML-DSA-65 key: %v", ErrAlgorithmNotSupported, err)
		}
		return mldsa65.Verify(&pk, data, nil, signature), nil
	case SigAlgoMLDSA87:
		var pk mldsa87.PublicKey
		if err := pk.UnmarshalBinary(rawKey); err != nil {
			return false, fmt.Errorf("%w: ML-DSA-87 key: %v", ErrAlgorithmNotSupported, err)
		}
		return mldsa87.Verify(&pk, data, nil, signature), nil
	}
	return false, fmt.Errorf("%w: %s", ErrAlgorithmNotSupported, scheme)
}

// Package certvalidator provides X.509 certificate path validation.
// This file implements attribute certificate (AC) validation per RFC 5755.
package certvalidator

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// ACValidationResult holds the result of a successful AC validation.
type ACValidationResult struct {
	// AttrCert is the validated attribute certificate
	AttrCert *AttributeCertificate

	// Holder is the validated holder path result
	Holder *ValidationResult

	// Issuer is the validated AA path result
	Issuer *ValidationResult
}

// ACValidator validates an attribute certificate against the path of its
// holder and the path of its issuer.
type ACValidator struct {
	Config     *ValidationConfig
	HolderPath *CertificationPath
	IssuerPath *CertificationPath
}

// NewACValidator creates a new AC validator.
func NewACValidator(config *ValidationConfig, holderPath, issuerPath *CertificationPath) *ACValidator {
	return &ACValidator{Config: config, HolderPath: holderPath, IssuerPath: issuerPath}
}

// ValidateAttributeCertificate validates ac with the given holder and issuer paths.
func ValidateAttributeCertificate(ctx context.Context, ac *AttributeCertificate, holderPath, issuerPath *CertificationPath, config *ValidationConfig) (*ACValidationResult, error) {
	return NewACValidator(config, holderPath, issuerPath).Validate(ctx, ac)
}

// Extensions an AC may carry as critical without failing validation. Public
// key certificate extensions such as basicConstraints are not among them.
var supportedACExtensions = map[string]bool{
	OIDExtensionAuthorityKeyID.String():    true,
	OIDCRLDistributionPoints.String():      true,
	OIDAuthorityInfoAccess.String():        true,
	OIDAuditIdentity.String():              true,
	OIDExtensionTargetInformation.String(): true,
	OIDExtensionNoRevAvail.String():        true,
}

// Validate runs the checks of RFC 5755 Section 5 and returns an
// *ACValidationError for the first failure.
func (v *ACValidator) Validate(ctx context.Context, ac *AttributeCertificate) (*ACValidationResult, error) {
	if v.Config == nil || v.Config.Verifier == nil {
		return nil, ErrNoVerifier
	}
	config := v.Config
	if config.EvaluationTime.IsZero() {
		config = config.WithEvaluationTime(time.Now())
	}
	at := config.EvaluationTime
	logger := config.Logger

	holder, err := v.validatePath(ctx, v.HolderPath, config)
	if err != nil {
		return nil, NewACValidationError(ACReasonHolderPathFailed, "holder path did not validate", err)
	}
	if err := checkHolder(ac.Holder, holder.Certificate); err != nil {
		return nil, err
	}
	logger.V(4).Info("AC holder matched", "holder", holder.Certificate.Subject().String())

	issuer, err := v.validatePath(ctx, v.IssuerPath, config)
	if err != nil {
		return nil, NewACValidationError(ACReasonIssuerPathFailed, "issuer path did not validate", err)
	}
	if err := checkIssuer(ac.Issuer, issuer.Certificate); err != nil {
		return nil, err
	}

	ok, err := config.Verifier.Verify(ac.SignedBody(), ac.Signature, issuer.WorkingPublicKey, ac.SignatureAlgorithm)
	if err != nil {
		return nil, NewACValidationError(ACReasonSignatureInvalid, "signature could not be verified", err)
	}
	if !ok {
		return nil, NewACValidationError(ACReasonSignatureInvalid, "signature does not verify under the issuer key", nil)
	}

	if err := checkIssuerProfile(issuer.Certificate); err != nil {
		return nil, err
	}

	if at.Before(ac.NotBefore) {
		return nil, NewACValidationError(ACReasonTimeInvalid,
			fmt.Sprintf("attribute certificate is not valid until %s", ac.NotBefore.UTC().Format(timeFormat)), nil)
	}
	if at.After(ac.NotAfter) {
		return nil, NewACValidationError(ACReasonTimeInvalid,
			fmt.Sprintf("attribute certificate expired %s", ac.NotAfter.UTC().Format(timeFormat)), nil)
	}

	for _, ext := range ac.Extensions.All() {
		if ext.Critical && !supportedACExtensions[ext.OID.String()] {
			return nil, NewACValidationError(ACReasonUnrecognizedCriticalExtension,
				"unsupported critical extension "+ext.OID.String(), nil)
		}
	}

	if targets, ok := ac.Extensions.TargetInformation(); ok {
		if !anyTargetMatches(targets, config.Targets) {
			return nil, NewACValidationError(ACReasonNoMatchingTarget,
				"none of the configured targets is listed in the target information", nil)
		}
	}

	logger.V(2).Info("Attribute certificate valid", "serial", ac.SerialNumber.String(), "issuer", issuer.Certificate.Subject().String())
	return &ACValidationResult{AttrCert: ac, Holder: holder, Issuer: issuer}, nil
}

// validatePath validates an AC related path, limited to the path's own length.
func (v *ACValidator) validatePath(ctx context.Context, path *CertificationPath, config *ValidationConfig) (*ValidationResult, error) {
	if path.Len() == 0 {
		return nil, ErrEmptyPath
	}
	return ValidatePath(ctx, path, config.WithMaxPathLength(path.Len()))
}

// checkHolder checks every identification present in the holder against cert.
func checkHolder(holder Holder, cert *Certificate) error {
	if is := holder.BaseCertificateID; is != nil {
		if !issuerSerialMatches(is, cert) {
			return NewACValidationError(ACReasonHolderMismatch,
				"baseCertificateID does not match the holder certificate", nil)
		}
	}
	if len(holder.EntityName) > 0 {
		if !entityNameMatches(holder.EntityName, cert) {
			return NewACValidationError(ACReasonHolderMismatch,
				"entityName does not match the holder certificate", nil)
		}
	}
	if odi := holder.ObjectDigestInfo; odi != nil {
		if err := objectDigestMatches(odi, cert); err != nil {
			return NewACValidationError(ACReasonHolderMismatch, "objectDigestInfo does not match", err)
		}
	}
	return nil
}

func issuerSerialMatches(is *IssuerSerial, cert *Certificate) bool {
	if is.Serial == nil || is.Serial.Cmp(cert.SerialNumber()) != 0 {
		return false
	}
	return containsGeneralName(is.Issuer, NewDirectoryName(cert.Issuer()))
}

func entityNameMatches(names []GeneralName, cert *Certificate) bool {
	subject := NewDirectoryName(cert.Subject())
	san, _ := cert.Extensions().SubjectAltName()
	for _, name := range names {
		if name.Equal(subject) || containsGeneralName(san, name) {
			return true
		}
	}
	return false
}

func objectDigestMatches(odi *ObjectDigestInfo, cert *Certificate) error {
	var data []byte
	switch odi.Type {
	case DigestedPublicKey:
		data = cert.PublicKeyInfo().Raw
	case DigestedPublicKeyCert:
		data = cert.Raw()
	default:
		return fmt.Errorf("digested object type %d is not supported", odi.Type)
	}
	hash := GetHashAlgorithmFromOID(odi.DigestAlgorithm.Algorithm)
	digest, err := digestOf(hash, data)
	if err != nil {
		return err
	}
	if !bytes.Equal(digest, odi.Digest) {
		return fmt.Errorf("digest mismatch")
	}
	return nil
}

// checkIssuer matches the AttCertIssuer against the AA certificate.
func checkIssuer(issuer AttCertIssuer, cert *Certificate) error {
	if len(issuer.IssuerName) == 0 && issuer.BaseCertificateID == nil {
		return NewACValidationError(ACReasonIssuerMismatch, "issuer identifies no certificate", nil)
	}
	if len(issuer.IssuerName) > 0 && !containsGeneralName(issuer.IssuerName, NewDirectoryName(cert.Subject())) {
		return NewACValidationError(ACReasonIssuerMismatch,
			fmt.Sprintf("issuer name does not match %s", cert.Subject()), nil)
	}
	if is := issuer.BaseCertificateID; is != nil && !issuerSerialMatches(is, cert) {
		return NewACValidationError(ACReasonIssuerMismatch, "issuer baseCertificateID does not match", nil)
	}
	return nil
}

// checkIssuerProfile implements RFC 5755 Section 4.5.
func checkIssuerProfile(cert *Certificate) error {
	exts := cert.Extensions()
	if ku, ok := exts.KeyUsage(); ok && !ku.Has(KeyUsageDigitalSignature) {
		return NewACValidationError(ACReasonIssuerProfileInvalid,
			"issuer certificate does not allow digitalSignature", nil)
	}
	if bc, ok := exts.BasicConstraints(); ok && bc.CA {
		return NewACValidationError(ACReasonIssuerProfileInvalid, "issuer certificate must not be a CA", nil)
	}
	return nil
}

func anyTargetMatches(listed TargetInformation, acceptable []Target) bool {
	for _, want := range acceptable {
		for _, t := range listed {
			if t.Equal(want) {
				return true
			}
		}
	}
	return false
}

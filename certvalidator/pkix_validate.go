// Package certvalidator provides X.509 certificate path validation.
// This file implements RFC 5280 PKIX certification path validation.
package certvalidator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

// PathValidator performs RFC 5280 path validation.
type PathValidator struct {
	Config *ValidationConfig
}

// NewPathValidator creates a new PKIX path validator.
func NewPathValidator(config *ValidationConfig) *PathValidator {
	return &PathValidator{Config: config}
}

// ValidatePath validates path under config.
func ValidatePath(ctx context.Context, path *CertificationPath, config *ValidationConfig) (*ValidationResult, error) {
	return NewPathValidator(config).Validate(ctx, path)
}

// pathRun carries one validation run. The evaluation time is sampled once.
type pathRun struct {
	config *ValidationConfig
	state  *ValidationState
	at     time.Time
	logger klog.Logger
	// offset maps the RFC position i to the index in the path.
	offset int
}

// Validate validates a certification path. The trust anchor at index 0 is
// accepted as is; a path of one certificate is processed against its own key.
// It returns a *ValidationError for the first failed check.
func (v *PathValidator) Validate(ctx context.Context, path *CertificationPath) (*ValidationResult, error) {
	if path.Len() == 0 {
		return nil, ErrEmptyPath
	}
	if v.Config == nil || v.Config.Verifier == nil {
		return nil, ErrNoVerifier
	}

	certs := path.Certificates()
	anchor := certs[0]
	toProcess, offset := certs[1:], 1
	if len(certs) == 1 {
		toProcess, offset = certs, 0
	}
	n := len(toProcess)

	run := &pathRun{
		config: v.Config,
		state:  NewValidationState(v.Config, anchor, n),
		at:     v.Config.EvaluationTime,
		logger: v.Config.Logger,
		offset: offset,
	}
	if run.at.IsZero() {
		run.at = time.Now()
	}
	if offset == 1 {
		run.state.applyAnchorConstraints(anchor)
	}
	run.logger.V(2).Info("Validating certification path", "length", len(certs), "anchor", anchor.Subject().String(), "at", run.at)

	for i, cert := range toProcess {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run.state.Index = i + 1
		isLast := i == n-1

		var issuer *Certificate
		if i+offset > 0 {
			issuer = certs[i+offset-1]
		}
		if err := run.processCertificate(ctx, cert, issuer); err != nil {
			run.logger.V(2).Info("Certification path rejected", "index", i+offset, "error", err.Error())
			return nil, err
		}
		if !isLast {
			if err := run.prepareNext(cert); err != nil {
				run.logger.V(2).Info("Certification path rejected", "index", i+offset, "error", err.Error())
				return nil, err
			}
		}
	}

	result, err := run.wrapUp(path, toProcess[n-1])
	if err != nil {
		run.logger.V(2).Info("Certification path rejected during wrap-up", "error", err.Error())
		return nil, err
	}
	run.logger.V(2).Info("Certification path valid", "target", result.Certificate.Subject().String(), "policies", result.ValidPolicies)
	return result, nil
}

func (r *pathRun) fail(reason ValidationReason, cert *Certificate, msg string) *ValidationError {
	return NewValidationError(reason, r.state.Index-1+r.offset, cert, msg)
}

func (r *pathRun) isLast() bool {
	return r.state.Index == r.state.PathLength
}

func (r *pathRun) certLabel() string {
	if r.isLast() {
		return "the end-entity certificate"
	}
	return fmt.Sprintf("intermediate certificate %d", r.state.Index-1+r.offset)
}

// processCertificate implements RFC 5280 Section 6.1.3.
func (r *pathRun) processCertificate(ctx context.Context, cert, issuer *Certificate) error {
	s := r.state
	r.logger.V(4).Info("Processing certificate", "index", s.Index-1+r.offset, "subject", cert.Subject().String())

	// (a)(1)
	ok, err := r.config.Verifier.Verify(cert.SignedBody(), cert.Signature(), s.WorkingPublicKey, cert.SignatureAlgorithm())
	if err != nil {
		verr := r.fail(ReasonSignatureMismatch, cert, "the signature of "+r.certLabel()+" could not be verified")
		verr.Err = err
		return verr
	}
	if !ok {
		return r.fail(ReasonSignatureMismatch, cert, "the signature of "+r.certLabel()+" does not verify under the issuer key")
	}

	// (a)(2)
	if r.at.Before(cert.NotBefore()) {
		return newNotYetValidError(s.Index-1+r.offset, cert, r.at)
	}
	if r.at.After(cert.NotAfter()) {
		return newExpiredError(s.Index-1+r.offset, cert, r.at)
	}

	// (a)(3)
	if r.config.Revocation != nil && issuer != nil {
		if err := r.config.Revocation.CheckRevocation(ctx, cert, issuer, r.at); err != nil {
			reason := ReasonRevocationUnknown
			if errors.Is(err, ErrCertificateRevoked) {
				reason = ReasonRevoked
			}
			verr := r.fail(reason, cert, "")
			verr.Err = err
			return verr
		}
	}

	// (a)(4)
	if !cert.Issuer().Equal(s.WorkingIssuerName) {
		return r.fail(ReasonIssuerNameMismatch, cert,
			fmt.Sprintf("issuer %q of %s does not match %q", cert.Issuer(), r.certLabel(), s.WorkingIssuerName))
	}

	// (b), (c)
	if r.isLast() || !cert.IsSelfIssued() {
		if violation := s.NameConstraints.Check(cert); violation != nil {
			verr := r.fail(ReasonNameConstraintViolation, cert, "")
			verr.Err = violation
			return verr
		}
	}

	// (d), (e)
	policies, hasPolicies := cert.Extensions().CertificatePolicies()
	switch {
	case s.Policies.IsEmpty():
	case hasPolicies:
		anyPolicyUninhibited := s.InhibitAnyPolicy > 0 || (!r.isLast() && cert.IsSelfIssued())
		UpdatePolicyTree(s.Policies, policies, s.Index, anyPolicyUninhibited)
	default:
		s.Policies.Clear()
	}

	// (f)
	if s.ExplicitPolicy == 0 && s.Policies.IsEmpty() {
		return r.fail(ReasonPolicyTreeEmpty, cert, "no valid policy remains and an explicit policy is required")
	}

	// 6.1.4 (o), 6.1.5 (f)
	if unknown := cert.Extensions().UnrecognizedCritical(); len(unknown) > 0 {
		return r.fail(ReasonUnrecognizedCriticalExtension, cert,
			fmt.Sprintf("%s contains the unsupported critical extension %s", r.certLabel(), unknown[0].OID))
	}
	return nil
}

// prepareNext implements RFC 5280 Section 6.1.4 for certificates other than the last.
func (r *pathRun) prepareNext(cert *Certificate) error {
	s := r.state
	exts := cert.Extensions()
	selfIssued := cert.IsSelfIssued()

	// (a), (b)
	if mappings, ok := exts.PolicyMappings(); ok && !s.Policies.IsEmpty() {
		ApplyPolicyMapping(s.Policies, mappings, s.Index, s.PolicyMapping > 0)
	}

	// (c) through (f)
	s.WorkingIssuerName = cert.Subject()
	s.WorkingPublicKey = cert.PublicKeyInfo()

	// (g)
	if nc, ok := exts.NameConstraints(); ok {
		s.NameConstraints.ProcessConstraints(nc)
	}

	// (h)
	if !selfIssued {
		if s.ExplicitPolicy > 0 {
			s.ExplicitPolicy--
		}
		if s.PolicyMapping > 0 {
			s.PolicyMapping--
		}
		if s.InhibitAnyPolicy > 0 {
			s.InhibitAnyPolicy--
		}
	}

	// (i)
	if pc, ok := exts.PolicyConstraints(); ok {
		if pc.RequireExplicitPolicy >= 0 && pc.RequireExplicitPolicy < s.ExplicitPolicy {
			s.ExplicitPolicy = pc.RequireExplicitPolicy
		}
		if pc.InhibitPolicyMapping >= 0 && pc.InhibitPolicyMapping < s.PolicyMapping {
			s.PolicyMapping = pc.InhibitPolicyMapping
		}
	}

	// (j)
	if iap, ok := exts.InhibitAnyPolicy(); ok && iap.SkipCerts < s.InhibitAnyPolicy {
		s.InhibitAnyPolicy = iap.SkipCerts
	}

	// (k)
	bc, hasBC := exts.BasicConstraints()
	if !hasBC || !bc.CA {
		return r.fail(ReasonBasicConstraints, cert, r.certLabel()+" is not a CA")
	}

	// (l)
	if !selfIssued {
		if s.MaxPathLength <= 0 {
			return r.fail(ReasonPathLengthExceeded, cert, "the path exceeds the maximum path length")
		}
		s.MaxPathLength--
	}

	// (m)
	if bc.PathLen >= 0 && bc.PathLen < s.MaxPathLength {
		s.MaxPathLength = bc.PathLen
	}

	// (n)
	if ku, ok := exts.KeyUsage(); ok && !ku.Has(KeyUsageKeyCertSign) {
		return r.fail(ReasonKeyUsageViolation, cert, r.certLabel()+" is not allowed to sign certificates")
	}
	return nil
}

// wrapUp implements RFC 5280 Section 6.1.5.
func (r *pathRun) wrapUp(path *CertificationPath, cert *Certificate) (*ValidationResult, error) {
	s := r.state

	// (a)
	if s.ExplicitPolicy > 0 {
		s.ExplicitPolicy--
	}
	// (b)
	if pc, ok := cert.Extensions().PolicyConstraints(); ok && pc.RequireExplicitPolicy == 0 {
		s.ExplicitPolicy = 0
	}
	// (c) through (e)
	s.WorkingPublicKey = cert.PublicKeyInfo()

	// (g)
	if !s.Policies.IsEmpty() {
		PruneUnacceptablePolicies(s.Policies, s.PathLength, r.config.initialPolicySet())
	}
	if s.ExplicitPolicy == 0 && s.Policies.IsEmpty() {
		return nil, NewValidationError(ReasonPolicyTreeEmpty, -1, cert,
			"the valid policy tree is empty and an explicit policy is required")
	}

	return &ValidationResult{
		Path:             path,
		Certificate:      cert,
		WorkingPublicKey: s.WorkingPublicKey,
		PolicyGraph:      s.Policies,
		ValidPolicies:    CollectValidPolicies(s.Policies, s.PathLength),
		NameConstraints:  s.NameConstraints,
		EvaluationTime:   r.at,
	}, nil
}

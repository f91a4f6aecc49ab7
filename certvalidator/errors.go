// Package certvalidator provides X.509 certificate path validation.
// This file contains error types for decoding, path building and validation.
package certvalidator

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrNoCertificationPath is wrapped by every BuildError.
	ErrNoCertificationPath = errors.New("no certification path")

	// ErrSearchLimit is wrapped by a BuildError when path building gave up
	// after PathBuilder.MaxSteps partial chains.
	ErrSearchLimit = errors.New("path search limit reached")

	// ErrEmptyPath is returned when validation is asked to process a path
	// without certificates.
	ErrEmptyPath = errors.New("certification path is empty")

	// ErrNoVerifier is returned when a ValidationConfig carries no Verifier.
	ErrNoVerifier = errors.New("validation config has no signature verifier")

	// ErrCertificateRevoked is wrapped by revocation checkers that found the
	// certificate on a CRL or in an OCSP response.
	ErrCertificateRevoked = errors.New("certificate revoked")

	// ErrRevocationUnknown is wrapped by revocation checkers that could not
	// determine the status and are configured to fail hard.
	ErrRevocationUnknown = errors.New("revocation status unknown")
)

// ValidationReason is the closed set of reasons a certification path can be rejected.
type ValidationReason int

const (
	ReasonSignatureMismatch ValidationReason = iota + 1
	ReasonExpired
	ReasonNotYetValid
	ReasonIssuerNameMismatch
	ReasonNameConstraintViolation
	ReasonPolicyTreeEmpty
	ReasonPathLengthExceeded
	ReasonBasicConstraints
	ReasonKeyUsageViolation
	ReasonUnrecognizedCriticalExtension
	ReasonRevoked
	ReasonRevocationUnknown
)

// String returns the reason in its hyphenated form.
func (r ValidationReason) String() string {
	switch r {
	case ReasonSignatureMismatch:
		return "signature-mismatch"
	case ReasonExpired:
		return "expired"
	case ReasonNotYetValid:
		return "not-yet-valid"
	case ReasonIssuerNameMismatch:
		return "issuer-name-mismatch"
	case ReasonNameConstraintViolation:
		return "name-constraint-violation"
	case ReasonPolicyTreeEmpty:
		return "policy-tree-empty"
	case ReasonPathLengthExceeded:
		return "path-length-exceeded"
	case ReasonBasicConstraints:
		return "basic-constraints"
	case ReasonKeyUsageViolation:
		return "key-usage-violation"
	case ReasonUnrecognizedCriticalExtension:
		return "unrecognized-critical-extension"
	case ReasonRevoked:
		return "revoked"
	case ReasonRevocationUnknown:
		return "revocation-status-unknown"
	default:
		return fmt.Sprintf("unknown reason (%d)", int(r))
	}
}

// ValidationError reports the first check a certification path failed.
type ValidationError struct {
	Reason ValidationReason
	// Index is the position of the failing certificate in the path, or -1
	// when the failure was detected during wrap-up.
	Index int
	Cert  *Certificate
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	var b []byte
	b = append(b, "path validation failed"...)
	if e.Index >= 0 {
		b = fmt.Appendf(b, " at certificate %d", e.Index)
	}
	if e.Cert != nil {
		b = fmt.Appendf(b, " (%s)", e.Cert.Subject())
	}
	b = fmt.Appendf(b, ": %s", e.Reason)
	if e.Msg != "" {
		b = fmt.Appendf(b, ": %s", e.Msg)
	}
	if e.Err != nil {
		b = fmt.Appendf(b, ": %v", e.Err)
	}
	return string(b)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ValidationError carrying the same reason.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

// NewValidationError creates a new ValidationError.
func NewValidationError(reason ValidationReason, index int, cert *Certificate, msg string) *ValidationError {
	return &ValidationError{Reason: reason, Index: index, Cert: cert, Msg: msg}
}

func newExpiredError(index int, cert *Certificate, at time.Time) *ValidationError {
	return NewValidationError(ReasonExpired, index, cert,
		fmt.Sprintf("certificate expired %s, evaluated at %s",
			cert.NotAfter().UTC().Format(timeFormat), at.UTC().Format(timeFormat)))
}

func newNotYetValidError(index int, cert *Certificate, at time.Time) *ValidationError {
	return NewValidationError(ReasonNotYetValid, index, cert,
		fmt.Sprintf("certificate is not valid until %s, evaluated at %s",
			cert.NotBefore().UTC().Format(timeFormat), at.UTC().Format(timeFormat)))
}

const timeFormat = "2006-01-02 15:04:05Z"

// ReasonOf extracts the validation reason from err, if any.
func ReasonOf(err error) (ValidationReason, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return 0, false
}

// ACValidationReason is the closed set of reasons an attribute certificate can be rejected.
type ACValidationReason int

const (
	ACReasonHolderPathFailed ACValidationReason = iota + 1
	ACReasonIssuerPathFailed
	ACReasonHolderMismatch
	ACReasonIssuerMismatch
	ACReasonSignatureInvalid
	ACReasonIssuerProfileInvalid
	ACReasonTimeInvalid
	ACReasonNoMatchingTarget
	ACReasonUnrecognizedCriticalExtension
)

// String returns the reason in its hyphenated form.
func (r ACValidationReason) String() string {
	switch r {
	case ACReasonHolderPathFailed:
		return "holder-path-failed"
	case ACReasonIssuerPathFailed:
		return "issuer-path-failed"
	case ACReasonHolderMismatch:
		return "holder-mismatch"
	case ACReasonIssuerMismatch:
		return "issuer-mismatch"
	case ACReasonSignatureInvalid:
		return "signature-invalid"
	case ACReasonIssuerProfileInvalid:
		return "issuer-profile-invalid"
	case ACReasonTimeInvalid:
		return "time-invalid"
	case ACReasonNoMatchingTarget:
		return "no-matching-target"
	case ACReasonUnrecognizedCriticalExtension:
		return "unrecognized-critical-extension"
	default:
		return fmt.Sprintf("unknown reason (%d)", int(r))
	}
}

// ACValidationError reports why an attribute certificate was rejected.
type ACValidationError struct {
	Reason ACValidationReason
	Msg    string
	Err    error
}

func (e *ACValidationError) Error() string {
	msg := "attribute certificate validation failed: " + e.Reason.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ACValidationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an ACValidationError carrying the same reason.
func (e *ACValidationError) Is(target error) bool {
	t, ok := target.(*ACValidationError)
	return ok && t.Reason == e.Reason
}

// NewACValidationError creates a new ACValidationError.
func NewACValidationError(reason ACValidationReason, msg string, err error) *ACValidationError {
	return &ACValidationError{Reason: reason, Msg: msg, Err: err}
}

// ACReasonOf extracts the attribute certificate rejection reason from err, if any.
func ACReasonOf(err error) (ACValidationReason, bool) {
	var ae *ACValidationError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return 0, false
}

// BuildError occurs when no certification path can be built for a target.
type BuildError struct {
	Target  *Certificate
	Message string
	Err     error
}

func (e *BuildError) Error() string {
	if e.Target == nil {
		return fmt.Sprintf("%v: %s", ErrNoCertificationPath, e.Message)
	}
	return fmt.Sprintf("%v to %s: %s", ErrNoCertificationPath, e.Target.Subject(), e.Message)
}

func (e *BuildError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNoCertificationPath}
	}
	return []error{ErrNoCertificationPath, e.Err}
}

// NewBuildError creates a new BuildError.
func NewBuildError(target *Certificate, message string) *BuildError {
	return &BuildError{Target: target, Message: message}
}

// DecodeError reports malformed or self-contradictory encoded input.
type DecodeError struct {
	// Structure names what was being decoded, e.g. "certificate" or
	// "extension 2.5.29.19".
	Structure string
	Msg       string
	Err       error
}

func (e *DecodeError) Error() string {
	msg := "decoding " + e.Structure
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(structure, msg string) *DecodeError {
	return &DecodeError{Structure: structure, Msg: msg}
}

func wrapDecodeError(structure string, err error) *DecodeError {
	return &DecodeError{Structure: structure, Err: err}
}

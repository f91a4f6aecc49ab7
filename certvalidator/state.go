// Package certvalidator provides X.509 certificate path validation.
// This file contains certification paths, validation configuration and state.
package certvalidator

import (
	"context"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// ConsList is an immutable cons list. Branches of a search share their tails.
type ConsList[T any] struct {
	Head T
	Tail *ConsList[T]
}

// NewConsList creates a new cons list with the given head.
func NewConsList[T any](head T) *ConsList[T] {
	return &ConsList[T]{Head: head}
}

// Prepend adds a new head to the cons list.
func (c *ConsList[T]) Prepend(head T) *ConsList[T] {
	return &ConsList[T]{Head: head, Tail: c}
}

// IsEmpty returns true if the cons list is nil.
func (c *ConsList[T]) IsEmpty() bool {
	return c == nil
}

// Len returns the length of the cons list.
func (c *ConsList[T]) Len() int {
	count := 0
	for curr := c; curr != nil; curr = curr.Tail {
		count++
	}
	return count
}

// Any reports whether pred holds for some element.
func (c *ConsList[T]) Any(pred func(T) bool) bool {
	for curr := c; curr != nil; curr = curr.Tail {
		if pred(curr.Head) {
			return true
		}
	}
	return false
}

// ToSlice converts the cons list to a slice, head first.
func (c *ConsList[T]) ToSlice() []T {
	if c == nil {
		return nil
	}
	result := make([]T, 0, c.Len())
	for curr := c; curr != nil; curr = curr.Tail {
		result = append(result, curr.Head)
	}
	return result
}

// CertificationPath is an ordered list of certificates: index 0 is the
// trust anchor and the last index is the target.
type CertificationPath struct {
	certs []*Certificate
}

// NewCertificationPath creates a path from certificates ordered from the
// trust anchor to the target.
func NewCertificationPath(certs ...*Certificate) *CertificationPath {
	return &CertificationPath{certs: append([]*Certificate(nil), certs...)}
}

// Certificates returns a copy of the certificates in path order.
func (p *CertificationPath) Certificates() []*Certificate {
	return append([]*Certificate(nil), p.certs...)
}

// Len returns the number of certificates including the trust anchor.
func (p *CertificationPath) Len() int {
	if p == nil {
		return 0
	}
	return len(p.certs)
}

// At returns the certificate at index i.
func (p *CertificationPath) At(i int) *Certificate {
	return p.certs[i]
}

// TrustAnchor returns the first certificate of the path.
func (p *CertificationPath) TrustAnchor() *Certificate {
	if p.Len() == 0 {
		return nil
	}
	return p.certs[0]
}

// Target returns the last certificate of the path.
func (p *CertificationPath) Target() *Certificate {
	if p.Len() == 0 {
		return nil
	}
	return p.certs[len(p.certs)-1]
}

// Equal reports whether both paths hold the same certificates in the same order.
func (p *CertificationPath) Equal(other *CertificationPath) bool {
	if p.Len() != other.Len() {
		return false
	}
	for i := range p.certs {
		if !p.certs[i].Equal(other.certs[i]) {
			return false
		}
	}
	return true
}

func (p *CertificationPath) String() string {
	parts := make([]string, len(p.certs))
	for i, c := range p.certs {
		parts[i] = c.Subject().String()
	}
	return strings.Join(parts, " -> ")
}

// RevocationChecker is the extension point for revocation status checks.
// Implementations return an error wrapping ErrCertificateRevoked for a
// revoked certificate and ErrRevocationUnknown when the status is required
// but cannot be established.
type RevocationChecker interface {
	CheckRevocation(ctx context.Context, cert, issuer *Certificate, at time.Time) error
}

// DefaultMaxPathLength is used when ValidationConfig.MaxPathLength is negative.
const DefaultMaxPathLength = 10

// ValidationConfig holds the inputs of path validation (RFC 5280 Section 6.1.1).
type ValidationConfig struct {
	// EvaluationTime is the time at which validity is checked. A zero value
	// is replaced by the current time once, when validation starts.
	EvaluationTime time.Time

	// MaxPathLength bounds the number of non-self-issued intermediate CAs.
	// Zero allows none; a negative value selects DefaultMaxPathLength.
	MaxPathLength int

	// InitialPolicies is the user-initial-policy-set. Empty means anyPolicy.
	InitialPolicies []string

	InhibitAnyPolicy     bool
	ExplicitPolicy       bool
	InhibitPolicyMapping bool

	// Targets are the acceptable attribute certificate targets.
	Targets []Target

	Verifier   Verifier
	Revocation RevocationChecker

	// Logger receives per-step traces at V(2) and V(4). The zero value discards.
	Logger klog.Logger
}

// NewValidationConfig creates a config evaluated now with default limits.
func NewValidationConfig(verifier Verifier) *ValidationConfig {
	return &ValidationConfig{
		EvaluationTime:  time.Now(),
		MaxPathLength:   DefaultMaxPathLength,
		InitialPolicies: []string{AnyPolicy},
		Verifier:        verifier,
	}
}

// WithEvaluationTime returns a copy of the config evaluated at t.
func (c *ValidationConfig) WithEvaluationTime(t time.Time) *ValidationConfig {
	out := *c
	out.EvaluationTime = t
	return &out
}

// WithMaxPathLength returns a copy of the config with another path length limit.
func (c *ValidationConfig) WithMaxPathLength(n int) *ValidationConfig {
	out := *c
	out.MaxPathLength = n
	return &out
}

func (c *ValidationConfig) initialPolicySet() []string {
	if len(c.InitialPolicies) == 0 {
		return []string{AnyPolicy}
	}
	return c.InitialPolicies
}

// ValidationState holds the RFC 5280 Section 6.1.2 state variables.
type ValidationState struct {
	// Index is the RFC position i of the certificate being processed (1..n).
	Index int
	// PathLength is n, the number of certificates processed after the anchor.
	PathLength int

	WorkingPublicKey  PublicKeyInfo
	WorkingIssuerName Name

	MaxPathLength    int
	ExplicitPolicy   int
	PolicyMapping    int
	InhibitAnyPolicy int

	Policies        *PolicyGraph
	NameConstraints *NameConstraintChecker
}

// NewValidationState initializes the state from the trust anchor for a path
// of n processed certificates.
func NewValidationState(config *ValidationConfig, anchor *Certificate, n int) *ValidationState {
	s := &ValidationState{
		PathLength:        n,
		WorkingPublicKey:  anchor.PublicKeyInfo(),
		WorkingIssuerName: anchor.Subject(),
		MaxPathLength:     config.MaxPathLength,
		ExplicitPolicy:    n + 1,
		PolicyMapping:     n + 1,
		InhibitAnyPolicy:  n + 1,
		Policies:          NewPolicyGraph(),
		NameConstraints:   NewNameConstraintChecker(),
	}
	if s.MaxPathLength < 0 {
		s.MaxPathLength = DefaultMaxPathLength
	}
	if config.ExplicitPolicy {
		s.ExplicitPolicy = 0
	}
	if config.InhibitPolicyMapping {
		s.PolicyMapping = 0
	}
	if config.InhibitAnyPolicy {
		s.InhibitAnyPolicy = 0
	}
	return s
}

// applyAnchorConstraints seeds the state with the name constraints and the
// path length constraint of a trust anchor that is not processed itself.
func (s *ValidationState) applyAnchorConstraints(anchor *Certificate) {
	exts := anchor.Extensions()
	if nc, ok := exts.NameConstraints(); ok {
		s.NameConstraints.ProcessConstraints(nc)
	}
	if bc, ok := exts.BasicConstraints(); ok && bc.CA && bc.PathLen >= 0 && bc.PathLen < s.MaxPathLength {
		s.MaxPathLength = bc.PathLen
	}
}

// ValidationResult is the frozen outcome of a successful validation.
type ValidationResult struct {
	Path *CertificationPath
	// Certificate is the target of the path.
	Certificate *Certificate
	// WorkingPublicKey is the target's subject public key.
	WorkingPublicKey PublicKeyInfo
	// PolicyGraph is the surviving valid policy graph; empty when NULL.
	PolicyGraph *PolicyGraph
	// ValidPolicies are the policies of the graph's leaves.
	ValidPolicies []string
	// NameConstraints holds the accumulated permitted and excluded subtrees.
	NameConstraints *NameConstraintChecker
	EvaluationTime  time.Time
}

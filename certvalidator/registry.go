// Package certvalidator provides X.509 certificate path validation.
// This file contains the certificate bundle and path building functionality.
package certvalidator

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"k8s.io/klog/v2"
)

// CertificateCollection is a read-only interface for certificate lookups.
type CertificateCollection interface {
	// RetrieveByName returns the certificates whose subject equals name.
	RetrieveByName(name Name) []*Certificate

	// RetrieveByKeyIdentifier returns the certificates with the given subject key identifier.
	RetrieveByKeyIdentifier(keyID []byte) []*Certificate

	// Contains reports whether cert is part of the collection.
	Contains(cert *Certificate) bool
}

// CertificateBundle is a set of certificates indexed by subject name and by
// subject key identifier. Registration order is preserved by lookups.
type CertificateBundle struct {
	mu sync.RWMutex

	certs       []*Certificate
	fingerprint map[[32]byte]bool

	// Index by canonical subject key for issuer lookups
	subjectMap map[string][]*Certificate

	// Index by subject key identifier
	keyIDMap map[string][]*Certificate
}

// NewCertificateBundle creates a bundle holding certs.
func NewCertificateBundle(certs ...*Certificate) *CertificateBundle {
	b := &CertificateBundle{
		fingerprint: make(map[[32]byte]bool),
		subjectMap:  make(map[string][]*Certificate),
		keyIDMap:    make(map[string][]*Certificate),
	}
	b.RegisterMultiple(certs)
	return b
}

// Register adds a certificate to the bundle.
// Returns true if the certificate was newly added.
func (b *CertificateBundle) Register(cert *Certificate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	fp := cert.Fingerprint()
	if b.fingerprint[fp] {
		return false
	}
	b.fingerprint[fp] = true
	b.certs = append(b.certs, cert)

	subjectKey := cert.Subject().Key()
	b.subjectMap[subjectKey] = append(b.subjectMap[subjectKey], cert)

	if ski := cert.SubjectKeyID(); len(ski) > 0 {
		b.keyIDMap[string(ski)] = append(b.keyIDMap[string(ski)], cert)
	}
	return true
}

// RegisterMultiple adds multiple certificates to the bundle.
func (b *CertificateBundle) RegisterMultiple(certs []*Certificate) {
	for _, cert := range certs {
		b.Register(cert)
	}
}

// RetrieveByName implements CertificateCollection.
func (b *CertificateBundle) RetrieveByName(name Name) []*Certificate {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Certificate(nil), b.subjectMap[name.Key()]...)
}

// RetrieveByKeyIdentifier implements CertificateCollection.
func (b *CertificateBundle) RetrieveByKeyIdentifier(keyID []byte) []*Certificate {
	if b == nil || len(keyID) == 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Certificate(nil), b.keyIDMap[string(keyID)]...)
}

// Contains implements CertificateCollection.
func (b *CertificateBundle) Contains(cert *Certificate) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fingerprint[cert.Fingerprint()]
}

// All returns all certificates in registration order.
func (b *CertificateBundle) All() []*Certificate {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Certificate(nil), b.certs...)
}

// Count returns the number of certificates in the bundle.
func (b *CertificateBundle) Count() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.certs)
}

// FindPotentialIssuers returns the certificates of coll whose subject equals
// the issuer of cert. When cert carries an authority key identifier,
// candidates with a different subject key identifier are dropped.
func FindPotentialIssuers(coll CertificateCollection, cert *Certificate) []*Certificate {
	aki := cert.AuthorityKeyID()
	if len(aki) > 0 {
		var out []*Certificate
		for _, c := range coll.RetrieveByKeyIdentifier(aki) {
			if c.Subject().Equal(cert.Issuer()) {
				out = append(out, c)
			}
		}
		// Issuers without a subject key identifier can only be found by name.
		for _, c := range coll.RetrieveByName(cert.Issuer()) {
			if len(c.SubjectKeyID()) == 0 {
				out = append(out, c)
			}
		}
		return out
	}
	return coll.RetrieveByName(cert.Issuer())
}

// DefaultMaxBuildDepth bounds the number of certificates in a built path.
const DefaultMaxBuildDepth = 16

// DefaultMaxBuildSteps bounds the number of partial chains one search expands.
const DefaultMaxBuildSteps = 100000

// PathBuilder builds certification paths from a target certificate to trust anchors.
type PathBuilder struct {
	TrustAnchors  *CertificateBundle
	Intermediates *CertificateBundle

	// MaxDepth bounds the length of a path. Zero selects DefaultMaxBuildDepth.
	MaxDepth int

	// MaxSteps bounds the partial chains expanded by one search. Zero
	// selects DefaultMaxBuildSteps.
	MaxSteps int

	Logger klog.Logger
}

// NewPathBuilder creates a new PathBuilder.
func NewPathBuilder(anchors, intermediates *CertificateBundle) *PathBuilder {
	return &PathBuilder{TrustAnchors: anchors, Intermediates: intermediates}
}

// BuildPaths returns every certification path from anchors to target.
func BuildPaths(ctx context.Context, target *Certificate, anchors, intermediates *CertificateBundle) ([]*CertificationPath, error) {
	return NewPathBuilder(anchors, intermediates).AllPathsToTarget(ctx, target)
}

// BuildShortestPath returns the path with the fewest certificates.
func BuildShortestPath(ctx context.Context, target *Certificate, anchors, intermediates *CertificateBundle) (*CertificationPath, error) {
	return NewPathBuilder(anchors, intermediates).ShortestPathToTarget(ctx, target)
}

// AllPathsToTarget searches depth-first for every chain ending in target.
// Each worklist entry is a partial chain with its head being the
// certificate whose issuer is searched next; a certificate already in the
// chain is never added again, and intermediates that cannot lead to any
// trust anchor are never entered. Paths are returned in the order found.
//
// A target that is itself a self-issued trust anchor yields the one
// certificate path first and the search continues from there. When the
// search hits MaxSteps the paths found so far are returned; with none, the
// *BuildError wraps ErrSearchLimit.
func (pb *PathBuilder) AllPathsToTarget(ctx context.Context, target *Certificate) ([]*CertificationPath, error) {
	maxDepth := pb.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxBuildDepth
	}
	maxSteps := pb.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxBuildSteps
	}

	var paths []*CertificationPath
	if target.IsSelfIssued() && pb.TrustAnchors.Contains(target) {
		pb.Logger.V(4).Info("Target is a trust anchor", "subject", target.Subject().String())
		paths = append(paths, NewCertificationPath(target))
	}

	reachable, err := pb.anchorReachable(ctx, target)
	if err != nil {
		return nil, err
	}

	stack := []*ConsList[*Certificate]{NewConsList(target)}
	for steps := 0; len(stack) > 0; steps++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if steps >= maxSteps {
			pb.Logger.V(2).Info("Abandoning path search", "steps", steps, "found", len(paths))
			if len(paths) == 0 {
				return nil, &BuildError{Target: target, Message: fmt.Sprintf("gave up after %d steps", steps), Err: ErrSearchLimit}
			}
			break
		}
		chain := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if chain.Len() >= maxDepth {
			pb.Logger.V(4).Info("Abandoning branch at maximum depth", "depth", chain.Len())
			continue
		}
		subject := chain.Head

		for _, anchor := range FindPotentialIssuers(pb.TrustAnchors, subject) {
			if inChain(chain, anchor) {
				continue
			}
			paths = append(paths, NewCertificationPath(chain.Prepend(anchor).ToSlice()...))
		}

		var next []*ConsList[*Certificate]
		for _, issuer := range FindPotentialIssuers(pb.Intermediates, subject) {
			if issuer.IsSelfIssued() || !reachable[issuer.Fingerprint()] {
				continue
			}
			if inChain(chain, issuer) {
				pb.Logger.V(4).Info("Skipping certificate already in chain", "subject", issuer.Subject().String())
				continue
			}
			next = append(next, chain.Prepend(issuer))
		}
		// Push in reverse so the first candidate is explored first.
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}

	if len(paths) == 0 {
		return nil, NewBuildError(target, "no path from any trust anchor")
	}
	pb.Logger.V(2).Info("Built certification paths", "target", target.Subject().String(), "count", len(paths))
	return paths, nil
}

// anchorReachable collects the intermediates above target and marks those
// from which some trust anchor can be reached through issuer links,
// ignoring cycles and depth. No path can pass through an unmarked one.
func (pb *PathBuilder) anchorReachable(ctx context.Context, target *Certificate) (map[[32]byte]bool, error) {
	issuers := make(map[[32]byte][]*Certificate)
	seen := map[[32]byte]bool{target.Fingerprint(): true}
	var order []*Certificate
	for queue := []*Certificate{target}; len(queue) > 0; queue = queue[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cert := queue[0]
		order = append(order, cert)
		var up []*Certificate
		for _, issuer := range FindPotentialIssuers(pb.Intermediates, cert) {
			if issuer.IsSelfIssued() {
				continue
			}
			up = append(up, issuer)
			if fp := issuer.Fingerprint(); !seen[fp] {
				seen[fp] = true
				queue = append(queue, issuer)
			}
		}
		issuers[cert.Fingerprint()] = up
	}

	reachable := make(map[[32]byte]bool)
	for _, cert := range order {
		if len(FindPotentialIssuers(pb.TrustAnchors, cert)) > 0 {
			reachable[cert.Fingerprint()] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for _, cert := range order {
			fp := cert.Fingerprint()
			if reachable[fp] {
				continue
			}
			for _, issuer := range issuers[fp] {
				if reachable[issuer.Fingerprint()] {
					reachable[fp] = true
					changed = true
					break
				}
			}
		}
	}
	pb.Logger.V(4).Info("Collected candidate issuers", "candidates", len(order)-1, "reachable", len(reachable))
	return reachable, nil
}

// ShortestPathToTarget returns the path with the fewest certificates. Ties
// keep the order in which paths were found.
func (pb *PathBuilder) ShortestPathToTarget(ctx context.Context, target *Certificate) (*CertificationPath, error) {
	paths, err := pb.AllPathsToTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Len() < paths[j].Len() })
	return paths[0], nil
}

func inChain(chain *ConsList[*Certificate], cert *Certificate) bool {
	fp := cert.Fingerprint()
	return chain.Any(func(c *Certificate) bool {
		return c.Fingerprint() == fp || (bytes.Equal(c.SubjectKeyID(), cert.SubjectKeyID()) &&
			len(c.SubjectKeyID()) > 0 && c.Subject().Equal(cert.Subject()))
	})
}

// Package certvalidator provides X.509 certificate path validation.
// This file contains name constraint processing for RFC 5280 path validation.
package certvalidator

import (
	"fmt"
	"net/url"
	"strings"
)

// DNSTreeContains reports whether other lies in the DNS subtree rooted at base.
// A base with a leading period only matches proper subdomains.
func DNSTreeContains(base, other string) bool {
	base = strings.ToLower(strings.TrimSuffix(base, "."))
	other = strings.ToLower(strings.TrimSuffix(other, "."))
	if base == "" {
		return true
	}
	if strings.HasPrefix(base, ".") {
		return strings.HasSuffix(other, base) && len(other) > len(base)
	}
	return other == base || strings.HasSuffix(other, "."+base)
}

// HostTreeContains matches a host against an rfc822Name or URI host constraint:
// "host" matches that host exactly, ".domain" matches any host below it.
func HostTreeContains(base, host string) bool {
	if base == "" {
		return false
	}
	if base[0] == '.' {
		return len(host) > len(base) && strings.HasSuffix(strings.ToLower(host), strings.ToLower(base))
	}
	return strings.EqualFold(host, base)
}

// EmailTreeContains reports whether the mailbox other is within the
// rfc822Name constraint base.
func EmailTreeContains(base, other string) bool {
	baseMailbox, baseHost := splitEmail(base)
	otherMailbox, otherHost := splitEmail(other)
	if otherMailbox == "" {
		return false
	}
	if baseMailbox != "" {
		return baseMailbox == otherMailbox && strings.EqualFold(baseHost, otherHost)
	}
	return HostTreeContains(baseHost, otherHost)
}

// URITreeContains applies a URI constraint to the host part of other.
// URIs without a host never match.
func URITreeContains(base, other string) bool {
	parsed, err := url.Parse(other)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "" {
		return false
	}
	return HostTreeContains(base, host)
}

// IPTreeContains reports whether the address ip lies in the network
// described by constraint (address followed by mask).
func IPTreeContains(constraint, ip []byte) bool {
	if len(constraint) != 2*len(ip) {
		return false
	}
	addr, mask := constraint[:len(ip)], constraint[len(ip):]
	for i := range ip {
		if ip[i]&mask[i] != addr[i]&mask[i] {
			return false
		}
	}
	return true
}

// SubtreeContains reports whether name falls within subtree. Names of
// another type are never contained.
func SubtreeContains(subtree GeneralSubtree, name GeneralName) bool {
	base := subtree.Base
	if base.Type != name.Type {
		return false
	}
	switch base.Type {
	case GeneralNameDNSName:
		return DNSTreeContains(base.Value, name.Value)
	case GeneralNameRFC822Name:
		return EmailTreeContains(base.Value, name.Value)
	case GeneralNameURI:
		return URITreeContains(base.Value, name.Value)
	case GeneralNameIPAddress:
		return IPTreeContains(base.IP, name.IP)
	case GeneralNameDirectoryName:
		return name.DirectoryName.HasPrefix(base.DirectoryName)
	default:
		return base.Equal(name)
	}
}

// NameConstraintViolation describes the name that failed a constraint check.
type NameConstraintViolation struct {
	Name     GeneralName
	Excluded bool
}

func (v *NameConstraintViolation) Error() string {
	if v.Excluded {
		return fmt.Sprintf("the name %s of type %s is within an excluded subtree", v.Name, v.Name.Type)
	}
	return fmt.Sprintf("the name %s of type %s is not within any permitted subtree", v.Name, v.Name.Type)
}

// PermittedSubtrees holds generations of permitted subtrees per name type.
// Each certificate that constrains a type appends one generation; a name
// must match a subtree of every generation of its type.
type PermittedSubtrees struct {
	trees map[GeneralNameType][][]GeneralSubtree
}

// NewPermittedSubtrees returns a set that accepts every name.
func NewPermittedSubtrees() *PermittedSubtrees {
	return &PermittedSubtrees{trees: make(map[GeneralNameType][][]GeneralSubtree)}
}

// IntersectWith adds a new generation for each name type present in subtrees.
func (ps *PermittedSubtrees) IntersectWith(subtrees []GeneralSubtree) {
	byType := make(map[GeneralNameType][]GeneralSubtree)
	var order []GeneralNameType
	for _, st := range subtrees {
		if _, ok := byType[st.Base.Type]; !ok {
			order = append(order, st.Base.Type)
		}
		byType[st.Base.Type] = append(byType[st.Base.Type], st)
	}
	for _, t := range order {
		ps.trees[t] = append(ps.trees[t], byType[t])
	}
}

// AcceptName reports whether name is permitted by all generations of its type.
func (ps *PermittedSubtrees) AcceptName(name GeneralName) bool {
	for _, generation := range ps.trees[name.Type] {
		accepted := false
		for _, st := range generation {
			if SubtreeContains(st, name) {
				accepted = true
				break
			}
		}
		if !accepted {
			return false
		}
	}
	return true
}

// Generations returns the number of generations constraining a name type.
func (ps *PermittedSubtrees) Generations(t GeneralNameType) int {
	return len(ps.trees[t])
}

func (ps *PermittedSubtrees) clone() *PermittedSubtrees {
	out := NewPermittedSubtrees()
	for t, gens := range ps.trees {
		out.trees[t] = append([][]GeneralSubtree(nil), gens...)
	}
	return out
}

// ExcludedSubtrees is the union of all excluded subtrees seen so far.
type ExcludedSubtrees struct {
	trees map[GeneralNameType][]GeneralSubtree
}

// NewExcludedSubtrees returns an empty set.
func NewExcludedSubtrees() *ExcludedSubtrees {
	return &ExcludedSubtrees{trees: make(map[GeneralNameType][]GeneralSubtree)}
}

// UnionWith adds excluded subtrees to the set.
func (es *ExcludedSubtrees) UnionWith(subtrees []GeneralSubtree) {
	for _, st := range subtrees {
		es.trees[st.Base.Type] = append(es.trees[st.Base.Type], st)
	}
}

// RejectName reports whether name lies in an excluded subtree.
func (es *ExcludedSubtrees) RejectName(name GeneralName) bool {
	for _, st := range es.trees[name.Type] {
		if SubtreeContains(st, name) {
			return true
		}
	}
	return false
}

func (es *ExcludedSubtrees) clone() *ExcludedSubtrees {
	out := NewExcludedSubtrees()
	for t, sts := range es.trees {
		out.trees[t] = append([]GeneralSubtree(nil), sts...)
	}
	return out
}

// CertificateNames returns the names of cert subject to name constraints:
// the subject DN, emailAddress attributes of the subject and the subject
// alternative names.
func CertificateNames(cert *Certificate) []GeneralName {
	var names []GeneralName
	if !cert.Subject().IsEmpty() {
		names = append(names, NewDirectoryName(cert.Subject()))
	}
	san, hasSAN := cert.Extensions().SubjectAltName()
	if !hasSAN {
		for _, email := range cert.Subject().Values(OIDEmailAddress) {
			names = append(names, NewEmailName(email))
		}
	}
	return append(names, san...)
}

// NameConstraintChecker accumulates name constraints along a path.
type NameConstraintChecker struct {
	Permitted *PermittedSubtrees
	Excluded  *ExcludedSubtrees
}

// NewNameConstraintChecker returns a checker without constraints.
func NewNameConstraintChecker() *NameConstraintChecker {
	return &NameConstraintChecker{
		Permitted: NewPermittedSubtrees(),
		Excluded:  NewExcludedSubtrees(),
	}
}

// ProcessConstraints merges a certificate's name constraints into the
// accumulated state. Implements RFC 5280 Section 6.1.4 (g).
func (nc *NameConstraintChecker) ProcessConstraints(constraints *NameConstraints) {
	if constraints == nil {
		return
	}
	if len(constraints.Permitted) > 0 {
		nc.Permitted.IntersectWith(constraints.Permitted)
	}
	if len(constraints.Excluded) > 0 {
		nc.Excluded.UnionWith(constraints.Excluded)
	}
}

// Check verifies every constrained name of cert. It returns nil when all
// names are acceptable.
func (nc *NameConstraintChecker) Check(cert *Certificate) *NameConstraintViolation {
	for _, name := range CertificateNames(cert) {
		if !nc.Permitted.AcceptName(name) {
			return &NameConstraintViolation{Name: name}
		}
		if nc.Excluded.RejectName(name) {
			return &NameConstraintViolation{Name: name, Excluded: true}
		}
	}
	return nil
}

// Clone returns an independent copy of the checker.
func (nc *NameConstraintChecker) Clone() *NameConstraintChecker {
	return &NameConstraintChecker{
		Permitted: nc.Permitted.clone(),
		Excluded:  nc.Excluded.clone(),
	}
}

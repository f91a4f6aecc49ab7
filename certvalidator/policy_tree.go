// Package certvalidator provides X.509 certificate path validation.
// This file contains the valid policy graph for RFC 5280 path validation.
package certvalidator

import (
	"fmt"
	"sort"
)

// AnyPolicy is the special OID indicating acceptance of any policy.
const AnyPolicy = "2.5.29.32.0"

// PolicyNodeRef addresses a node by depth and insertion index.
type PolicyNodeRef struct {
	Depth int
	Index int
}

// PolicyNode is a node of the valid policy graph.
type PolicyNode struct {
	ValidPolicy string
	// ExpectedPolicySet is sorted and never empty.
	ExpectedPolicySet []string
	QualifierSet      []PolicyQualifier
	// Parent is the index of the parent node at Depth-1, or -1 for the root.
	Parent int
}

type policyLevel struct {
	nodes []PolicyNode
	live  []int
}

// PolicyGraph is a depth-indexed arena of policy nodes. Parents are
// referenced by index, and removing a node only drops it from its level's
// live list.
type PolicyGraph struct {
	levels []policyLevel
}

// NewPolicyGraph returns a graph holding only the anyPolicy root at depth 0.
func NewPolicyGraph() *PolicyGraph {
	root := PolicyNode{ValidPolicy: AnyPolicy, ExpectedPolicySet: []string{AnyPolicy}, Parent: -1}
	return &PolicyGraph{levels: []policyLevel{{nodes: []PolicyNode{root}, live: []int{0}}}}
}

func (g *PolicyGraph) ensureDepth(depth int) {
	for len(g.levels) <= depth {
		g.levels = append(g.levels, policyLevel{})
	}
}

func (g *PolicyGraph) isLive(ref PolicyNodeRef) bool {
	if ref.Depth < 0 || ref.Depth >= len(g.levels) {
		return false
	}
	for _, i := range g.levels[ref.Depth].live {
		if i == ref.Index {
			return true
		}
	}
	return false
}

// AddNode adds a node at depth as a child of parent, which must be a live
// node at depth-1.
func (g *PolicyGraph) AddNode(depth int, policy string, expected []string, qualifiers []PolicyQualifier, parent PolicyNodeRef) (PolicyNodeRef, error) {
	if depth < 1 || depth > len(g.levels) {
		return PolicyNodeRef{}, fmt.Errorf("policy node depth %d out of range", depth)
	}
	if parent.Depth != depth-1 || !g.isLive(parent) {
		return PolicyNodeRef{}, fmt.Errorf("policy node parent %+v is not a live node at depth %d", parent, depth-1)
	}
	if len(expected) == 0 {
		return PolicyNodeRef{}, fmt.Errorf("policy node %s has an empty expected policy set", policy)
	}
	g.ensureDepth(depth)
	lvl := &g.levels[depth]
	idx := len(lvl.nodes)
	lvl.nodes = append(lvl.nodes, PolicyNode{
		ValidPolicy:       policy,
		ExpectedPolicySet: normalizePolicySet(expected),
		QualifierSet:      qualifiers,
		Parent:            parent.Index,
	})
	lvl.live = append(lvl.live, idx)
	return PolicyNodeRef{Depth: depth, Index: idx}, nil
}

func normalizePolicySet(set []string) []string {
	out := append([]string(nil), set...)
	sort.Strings(out)
	j := 0
	for i, s := range out {
		if i > 0 && s == out[j-1] {
			continue
		}
		out[j] = s
		j++
	}
	return out[:j]
}

// mustAdd is used where the caller has just read parent from the live set.
func (g *PolicyGraph) mustAdd(depth int, policy string, expected []string, qualifiers []PolicyQualifier, parent PolicyNodeRef) {
	if _, err := g.AddNode(depth, policy, expected, qualifiers, parent); err != nil {
		panic(err)
	}
}

// Node returns a copy of the node at ref.
func (g *PolicyGraph) Node(ref PolicyNodeRef) PolicyNode {
	return g.levels[ref.Depth].nodes[ref.Index]
}

// SetExpected replaces the expected policy set of a node.
func (g *PolicyGraph) SetExpected(ref PolicyNodeRef, expected []string) error {
	if !g.isLive(ref) {
		return fmt.Errorf("policy node %+v is not live", ref)
	}
	if len(expected) == 0 {
		return fmt.Errorf("policy node %+v: empty expected policy set", ref)
	}
	g.levels[ref.Depth].nodes[ref.Index].ExpectedPolicySet = normalizePolicySet(expected)
	return nil
}

// NodesAt returns the live nodes at depth in insertion order.
func (g *PolicyGraph) NodesAt(depth int) []PolicyNodeRef {
	if depth < 0 || depth >= len(g.levels) {
		return nil
	}
	live := g.levels[depth].live
	out := make([]PolicyNodeRef, len(live))
	for i, idx := range live {
		out[i] = PolicyNodeRef{Depth: depth, Index: idx}
	}
	return out
}

// Children returns the live children of ref.
func (g *PolicyGraph) Children(ref PolicyNodeRef) []PolicyNodeRef {
	var out []PolicyNodeRef
	for _, child := range g.NodesAt(ref.Depth + 1) {
		if g.Node(child).Parent == ref.Index {
			out = append(out, child)
		}
	}
	return out
}

// ParentOf returns the parent of ref; the root has none.
func (g *PolicyGraph) ParentOf(ref PolicyNodeRef) (PolicyNodeRef, bool) {
	p := g.Node(ref).Parent
	if p < 0 {
		return PolicyNodeRef{}, false
	}
	return PolicyNodeRef{Depth: ref.Depth - 1, Index: p}, true
}

// HasAnyPolicyAt reports whether a live anyPolicy node exists at depth.
func (g *PolicyGraph) HasAnyPolicyAt(depth int) bool {
	_, ok := g.anyPolicyNodeAt(depth)
	return ok
}

func (g *PolicyGraph) anyPolicyNodeAt(depth int) (PolicyNodeRef, bool) {
	for _, ref := range g.NodesAt(depth) {
		if g.Node(ref).ValidPolicy == AnyPolicy {
			return ref, true
		}
	}
	return PolicyNodeRef{}, false
}

// PoliciesAt returns the distinct valid policies of live nodes at depth.
func (g *PolicyGraph) PoliciesAt(depth int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, ref := range g.NodesAt(depth) {
		p := g.Node(ref).ValidPolicy
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Delete removes ref and all of its descendants.
func (g *PolicyGraph) Delete(ref PolicyNodeRef) {
	doomed := map[int]bool{ref.Index: true}
	for d := ref.Depth; d < len(g.levels); d++ {
		lvl := &g.levels[d]
		next := make(map[int]bool)
		kept := lvl.live[:0]
		for _, idx := range lvl.live {
			remove := false
			if d == ref.Depth {
				remove = doomed[idx]
			} else {
				remove = doomed[lvl.nodes[idx].Parent]
			}
			if remove {
				next[idx] = true
				continue
			}
			kept = append(kept, idx)
		}
		lvl.live = kept
		doomed = next
		if len(doomed) == 0 {
			return
		}
	}
}

// PruneDepth removes every node at depth, and then at each shallower depth,
// that has no live children.
func (g *PolicyGraph) PruneDepth(depth int) {
	if depth >= len(g.levels) {
		depth = len(g.levels) - 1
	}
	for d := depth; d >= 0; d-- {
		hasChild := make(map[int]bool)
		if d+1 < len(g.levels) {
			next := g.levels[d+1]
			for _, idx := range next.live {
				hasChild[next.nodes[idx].Parent] = true
			}
		}
		lvl := &g.levels[d]
		kept := lvl.live[:0]
		for _, idx := range lvl.live {
			if hasChild[idx] {
				kept = append(kept, idx)
			}
		}
		lvl.live = kept
	}
}

// IsEmpty reports whether the graph is NULL, i.e. the root is gone.
func (g *PolicyGraph) IsEmpty() bool {
	return g == nil || len(g.levels) == 0 || len(g.levels[0].live) == 0
}

// Clear sets the graph to NULL.
func (g *PolicyGraph) Clear() {
	for d := range g.levels {
		g.levels[d].live = nil
	}
}

// Depth returns the deepest level allocated in the graph.
func (g *PolicyGraph) Depth() int {
	return len(g.levels) - 1
}

// Clone returns an independent copy of the graph.
func (g *PolicyGraph) Clone() *PolicyGraph {
	if g == nil {
		return nil
	}
	out := &PolicyGraph{levels: make([]policyLevel, len(g.levels))}
	for d, lvl := range g.levels {
		out.levels[d] = policyLevel{
			nodes: append([]PolicyNode(nil), lvl.nodes...),
			live:  append([]int(nil), lvl.live...),
		}
	}
	return out
}

func containsPolicy(set []string, policy string) bool {
	for _, p := range set {
		if p == policy {
			return true
		}
	}
	return false
}

// UpdatePolicyTree processes the certificate policies of the certificate at
// depth. Implements RFC 5280 Section 6.1.3 (d).
func UpdatePolicyTree(g *PolicyGraph, policies CertificatePolicies, depth int, anyPolicyUninhibited bool) {
	g.ensureDepth(depth)
	parents := g.NodesAt(depth - 1)

	var certAnyPolicy *PolicyInformation
	asserted := make(map[string]bool)

	// Step (d)(1)
	for i := range policies {
		policy := &policies[i]
		if policy.Policy == AnyPolicy {
			certAnyPolicy = policy
			continue
		}
		asserted[policy.Policy] = true

		matched := false
		for _, parent := range parents {
			if containsPolicy(g.Node(parent).ExpectedPolicySet, policy.Policy) {
				matched = true
				g.mustAdd(depth, policy.Policy, []string{policy.Policy}, policy.Qualifiers, parent)
			}
		}
		if !matched {
			for _, parent := range parents {
				if g.Node(parent).ValidPolicy == AnyPolicy {
					g.mustAdd(depth, policy.Policy, []string{policy.Policy}, policy.Qualifiers, parent)
				}
			}
		}
	}

	// Step (d)(2)
	if certAnyPolicy != nil && anyPolicyUninhibited {
		for _, parent := range parents {
			present := make(map[string]bool)
			for _, child := range g.Children(parent) {
				present[g.Node(child).ValidPolicy] = true
			}
			for _, expected := range g.Node(parent).ExpectedPolicySet {
				if present[expected] {
					continue
				}
				g.mustAdd(depth, expected, []string{expected}, certAnyPolicy.Qualifiers, parent)
			}
		}
	}

	// Step (d)(3)
	g.PruneDepth(depth - 1)
}

// EnumeratePolicyMappings groups subject domain policies by issuer domain policy.
func EnumeratePolicyMappings(mappings PolicyMappings) (map[string][]string, []string) {
	policyMap := make(map[string][]string)
	var order []string
	for _, m := range mappings {
		if _, ok := policyMap[m.IssuerDomainPolicy]; !ok {
			order = append(order, m.IssuerDomainPolicy)
		}
		policyMap[m.IssuerDomainPolicy] = append(policyMap[m.IssuerDomainPolicy], m.SubjectDomainPolicy)
	}
	return policyMap, order
}

// ApplyPolicyMapping applies a certificate's policy mappings to the nodes at
// depth. Implements RFC 5280 Section 6.1.4 (b).
func ApplyPolicyMapping(g *PolicyGraph, mappings PolicyMappings, depth int, policyMappingUninhibited bool) {
	policyMap, order := EnumeratePolicyMappings(mappings)
	for _, issuerDomainPolicy := range order {
		subjectDomainPolicies := policyMap[issuerDomainPolicy]
		if policyMappingUninhibited {
			// Step (b)(1)
			matched := false
			for _, ref := range g.NodesAt(depth) {
				if g.Node(ref).ValidPolicy == issuerDomainPolicy {
					matched = true
					_ = g.SetExpected(ref, subjectDomainPolicies)
				}
			}
			if matched {
				continue
			}
			if anyNode, ok := g.anyPolicyNodeAt(depth); ok {
				parent, hasParent := g.ParentOf(anyNode)
				if hasParent {
					g.mustAdd(depth, issuerDomainPolicy, subjectDomainPolicies, g.Node(anyNode).QualifierSet, parent)
				}
			}
			continue
		}
		// Step (b)(2)
		for _, ref := range g.NodesAt(depth) {
			if g.Node(ref).ValidPolicy == issuerDomainPolicy {
				g.Delete(ref)
			}
		}
		g.PruneDepth(depth - 1)
	}
}

// PruneUnacceptablePolicies intersects the graph with the user initial
// policy set. Implements RFC 5280 Section 6.1.5 (g)(iii).
func PruneUnacceptablePolicies(g *PolicyGraph, depth int, acceptable []string) {
	if g.IsEmpty() || len(acceptable) == 0 || containsPolicy(acceptable, AnyPolicy) {
		return
	}

	// Step (g)(iii)(1): nodes whose parent is anyPolicy
	var nodeSet []PolicyNodeRef
	for d := 1; d <= depth && d < len(g.levels); d++ {
		for _, ref := range g.NodesAt(d) {
			parent, _ := g.ParentOf(ref)
			if g.Node(parent).ValidPolicy == AnyPolicy {
				nodeSet = append(nodeSet, ref)
			}
		}
	}

	// Step (g)(iii)(2)
	validAndAcceptable := make(map[string]bool)
	for _, ref := range nodeSet {
		policy := g.Node(ref).ValidPolicy
		if policy == AnyPolicy || containsPolicy(acceptable, policy) {
			validAndAcceptable[policy] = true
			continue
		}
		g.Delete(ref)
	}

	// Step (g)(iii)(3)
	if anyNode, ok := g.anyPolicyNodeAt(depth); ok {
		parent, hasParent := g.ParentOf(anyNode)
		quals := g.Node(anyNode).QualifierSet
		if hasParent {
			for _, policy := range acceptable {
				if !validAndAcceptable[policy] {
					g.mustAdd(depth, policy, []string{policy}, quals, parent)
				}
			}
		}
		g.Delete(anyNode)
	}

	// Step (g)(iii)(4)
	g.PruneDepth(depth - 1)
}

// CollectValidPolicies returns the policies of the leaves at depth.
func CollectValidPolicies(g *PolicyGraph, depth int) []string {
	if g.IsEmpty() {
		return nil
	}
	return g.PoliciesAt(depth)
}

// ValidPolicies returns the policies of the deepest level of the graph.
func (g *PolicyGraph) ValidPolicies() []string {
	if g.IsEmpty() {
		return nil
	}
	return g.PoliciesAt(g.Depth())
}

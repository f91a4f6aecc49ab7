package certvalidator

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	policyA = "1.3.6.1.4.1.99999.1"
	policyB = "1.3.6.1.4.1.99999.2"
	policyC = "1.3.6.1.4.1.99999.3"
)

func TestPolicyGraphAddNode(t *testing.T) {
	g := NewPolicyGraph()
	root := PolicyNodeRef{}

	if _, err := g.AddNode(0, policyA, []string{policyA}, nil, root); err == nil {
		t.Error("AddNode() at depth 0 succeeded")
	}
	if _, err := g.AddNode(3, policyA, []string{policyA}, nil, root); err == nil {
		t.Error("AddNode() beyond the next depth succeeded")
	}
	if _, err := g.AddNode(1, policyA, nil, nil, root); err == nil {
		t.Error("AddNode() with an empty expected set succeeded")
	}

	ref, err := g.AddNode(1, policyA, []string{policyB, policyA, policyB}, nil, root)
	if err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	if diff := cmp.Diff([]string{policyA, policyB}, g.Node(ref).ExpectedPolicySet); diff != "" {
		t.Errorf("ExpectedPolicySet mismatch (-want +got):\n%s", diff)
	}
	if parent, ok := g.ParentOf(ref); !ok || parent != root {
		t.Errorf("ParentOf() = %+v, %v", parent, ok)
	}

	g.Delete(ref)
	if _, err := g.AddNode(2, policyA, []string{policyA}, nil, ref); err == nil {
		t.Error("AddNode() under a deleted parent succeeded")
	}
}

func TestPolicyGraphPruneAndDelete(t *testing.T) {
	g := NewPolicyGraph()
	a, _ := g.AddNode(1, policyA, []string{policyA}, nil, PolicyNodeRef{})
	b, _ := g.AddNode(1, policyB, []string{policyB}, nil, PolicyNodeRef{})
	if _, err := g.AddNode(2, policyA, []string{policyA}, nil, a); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}

	g.PruneDepth(1)
	if diff := cmp.Diff([]string{policyA}, g.PoliciesAt(1)); diff != "" {
		t.Errorf("PoliciesAt(1) after pruning (-want +got):\n%s", diff)
	}
	before := g.Clone()
	g.PruneDepth(1)
	if diff := cmp.Diff(before.PoliciesAt(1), g.PoliciesAt(1)); diff != "" {
		t.Errorf("pruning twice changed the graph (-want +got):\n%s", diff)
	}
	_ = b

	g.Delete(a)
	if len(g.NodesAt(2)) != 0 {
		t.Error("Delete() left a descendant behind")
	}
	g.PruneDepth(0)
	if !g.IsEmpty() {
		t.Error("graph is not empty after removing the only branch")
	}
	if before.IsEmpty() {
		t.Error("Clone() shares state with the original")
	}
}

func TestUpdatePolicyTree(t *testing.T) {
	tests := []struct {
		name     string
		policies []string
		uninhib  bool
		want     []string
	}{
		{"explicit policies under anyPolicy", []string{policyA, policyB}, true, []string{policyA, policyB}},
		{"anyPolicy allowed", []string{AnyPolicy}, true, []string{AnyPolicy}},
		{"anyPolicy inhibited", []string{AnyPolicy}, false, nil},
		{"mixed", []string{policyA, AnyPolicy}, true, []string{policyA, AnyPolicy}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewPolicyGraph()
			var cp CertificatePolicies
			for _, p := range tt.policies {
				cp = append(cp, PolicyInformation{Policy: p})
			}
			UpdatePolicyTree(g, cp, 1, tt.uninhib)
			if diff := cmp.Diff(tt.want, g.PoliciesAt(1)); diff != "" {
				t.Errorf("PoliciesAt(1) mismatch (-want +got):\n%s", diff)
			}
			if tt.want == nil && !g.IsEmpty() {
				t.Error("graph with no surviving policy is not empty")
			}
		})
	}
}

func TestUpdatePolicyTreeFollowsExpectedSets(t *testing.T) {
	g := NewPolicyGraph()
	UpdatePolicyTree(g, CertificatePolicies{{Policy: policyA}, {Policy: policyB}}, 1, true)
	UpdatePolicyTree(g, CertificatePolicies{{Policy: policyB}, {Policy: policyC}}, 2, true)

	if diff := cmp.Diff([]string{policyB}, g.PoliciesAt(2)); diff != "" {
		t.Errorf("PoliciesAt(2) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{policyB}, g.PoliciesAt(1)); diff != "" {
		t.Errorf("policyA was not pruned at depth 1 (-want +got):\n%s", diff)
	}
}

func TestApplyPolicyMapping(t *testing.T) {
	mappings := PolicyMappings{
		{IssuerDomainPolicy: policyA, SubjectDomainPolicy: policyB},
		{IssuerDomainPolicy: policyA, SubjectDomainPolicy: policyC},
	}

	t.Run("mapping allowed", func(t *testing.T) {
		g := NewPolicyGraph()
		UpdatePolicyTree(g, CertificatePolicies{{Policy: policyA}}, 1, true)
		ApplyPolicyMapping(g, mappings, 1, true)
		refs := g.NodesAt(1)
		if len(refs) != 1 {
			t.Fatalf("NodesAt(1) = %d nodes, want 1", len(refs))
		}
		if diff := cmp.Diff([]string{policyB, policyC}, g.Node(refs[0]).ExpectedPolicySet); diff != "" {
			t.Errorf("ExpectedPolicySet mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("mapping through anyPolicy", func(t *testing.T) {
		g := NewPolicyGraph()
		UpdatePolicyTree(g, CertificatePolicies{{Policy: AnyPolicy}}, 1, true)
		ApplyPolicyMapping(g, mappings, 1, true)
		if diff := cmp.Diff([]string{AnyPolicy, policyA}, g.PoliciesAt(1)); diff != "" {
			t.Errorf("PoliciesAt(1) mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("mapping inhibited", func(t *testing.T) {
		g := NewPolicyGraph()
		UpdatePolicyTree(g, CertificatePolicies{{Policy: policyA}}, 1, true)
		ApplyPolicyMapping(g, mappings, 1, false)
		if !g.IsEmpty() {
			t.Errorf("graph = %v, want empty after deleting the mapped policy", g.PoliciesAt(1))
		}
	})
}

func TestEnumeratePolicyMappings(t *testing.T) {
	m, order := EnumeratePolicyMappings(PolicyMappings{
		{IssuerDomainPolicy: policyB, SubjectDomainPolicy: policyA},
		{IssuerDomainPolicy: policyA, SubjectDomainPolicy: policyC},
		{IssuerDomainPolicy: policyB, SubjectDomainPolicy: policyC},
	})
	if diff := cmp.Diff([]string{policyB, policyA}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{policyA, policyC}, m[policyB]); diff != "" {
		t.Errorf("mapping of policyB mismatch (-want +got):\n%s", diff)
	}
}

func TestPruneUnacceptablePolicies(t *testing.T) {
	tests := []struct {
		name       string
		policies   []string
		acceptable []string
		want       []string
	}{
		{"keeps acceptable", []string{policyA, policyB}, []string{policyA}, []string{policyA}},
		{"expands anyPolicy", []string{AnyPolicy}, []string{policyB, policyC}, []string{policyB, policyC}},
		{"anyPolicy acceptable", []string{policyA}, []string{AnyPolicy}, []string{policyA}},
		{"nothing acceptable", []string{policyA}, []string{policyC}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewPolicyGraph()
			var cp CertificatePolicies
			for _, p := range tt.policies {
				cp = append(cp, PolicyInformation{Policy: p})
			}
			UpdatePolicyTree(g, cp, 1, true)
			PruneUnacceptablePolicies(g, 1, tt.acceptable)
			if diff := cmp.Diff(tt.want, CollectValidPolicies(g, 1)); diff != "" {
				t.Errorf("valid policies mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

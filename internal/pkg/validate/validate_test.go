package validate

import (
	"strings"
	"testing"
)

func TestClusterID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"", false},
		{"cluster-1", true},
		{"prod_us-east_2", true},
		{"a", true},
		{"CLUSTER-123", true},
		{string(make([]byte, ClusterIDMaxLen+1)), false},
		{"bad/id", false},
		{"bad.id", false},
		{"cluster with spaces", false},
	}
	for _, tt := range tests {
		if got := ClusterID(tt.id); got != tt.want {
			t.Errorf("ClusterID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		kind string
		want bool
	}{
		{"", false},
		{"Pod", true},
		{"HorizontalPodAutoscaler", true},
		{"bad/kind", false},
		{"Pod-1", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		if got := Kind(tt.kind); got != tt.want {
			t.Errorf("Kind(%q) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestSourceID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"", false},
		{"workloads", true},
		{"Pod", true},
		{"MutatingWebhookConfiguration", true},
		{"../etc", false},
		{"a b", false},
	}
	for _, tt := range tests {
		if got := SourceID(tt.id); got != tt.want {
			t.Errorf("SourceID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestNodeID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"", false},
		{"root", true},
		{"Namespace-kube-system", true},
		{"group-6b1f0c7e-8d1a-4c59-9a39-0f8a5b1b2c3d", true},
		{"Node-ip-10-0-0-1.ec2.internal", true},
		{"bad/id", false},
		{"<script>", false},
		{strings.Repeat("x", 254), false},
	}
	for _, tt := range tests {
		if got := NodeID(tt.id); got != tt.want {
			t.Errorf("NodeID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestNamespace(t *testing.T) {
	tests := []struct {
		ns   string
		want bool
	}{
		{"", true},
		{"default", true},
		{"kube-system", true},
		{"Bad", true}, // ToLower applied
		{"bad_ns", false},
		{"-leading", false},
	}
	for _, tt := range tests {
		if got := Namespace(tt.ns); got != tt.want {
			t.Errorf("Namespace(%q) = %v, want %v", tt.ns, got, tt.want)
		}
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"", false},
		{"nginx", true},
		{"nginx-7d9c5b.abc", true},
		{"nginx_1", false},
		{strings.Repeat("a", 254), false},
	}
	for _, tt := range tests {
		if got := Name(tt.name); got != tt.want {
			t.Errorf("Name(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSearchQuery(t *testing.T) {
	tests := []struct {
		q      string
		want   string
		wantOK bool
	}{
		{"  nginx  ", "nginx", true},
		{"", "", false},
		{"   ", "", false},
		{"a\x00b", "a\x00b", false},
		{strings.Repeat("q", SearchQueryMaxLen+1), strings.Repeat("q", SearchQueryMaxLen+1), false},
	}
	for _, tt := range tests {
		got, ok := SearchQuery(tt.q)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("SearchQuery(%q) = (%q, %v), want (%q, %v)", tt.q, got, ok, tt.want, tt.wantOK)
		}
	}
}

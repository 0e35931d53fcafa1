package models

import (
	"time"

	"github.com/kubilitics/resourcemap/internal/layout"
)

// MapNode is one laid-out node of a resource map, positioned in absolute
// coordinates. ParentID is empty for nodes drawn directly on the canvas.
type MapNode struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"` // kubeObject, kubeGroup, group
	ParentID  string  `json:"parentId,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Label     string  `json:"label"`
	Subtitle  string  `json:"subtitle,omitempty"`
	Collapsed bool    `json:"collapsed,omitempty"`

	// Resource fields are set for kube objects and for groups that carry
	// a Namespace or Node object.
	Kind      string `json:"kind,omitempty"`
	Name      string `json:"name,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	UID       string `json:"uid,omitempty"`
	Status    string `json:"status"` // success, warning, error; worst child status for groups

	ChildCount   int `json:"childCount,omitempty"`
	WarningCount int `json:"warningCount,omitempty"`
	ErrorCount   int `json:"errorCount,omitempty"`
}

// MapEdge is a laid-out edge. Sections are absolute; ParentOffset is the
// absolute position of the group the edge was routed in.
type MapEdge struct {
	ID           string           `json:"id"`
	Source       string           `json:"source"`
	Target       string           `json:"target"`
	Type         string           `json:"type,omitempty"`
	Label        string           `json:"label,omitempty"`
	Sections     []layout.Section `json:"sections"`
	ParentOffset layout.Point     `json:"parentOffset"`
}

// Breadcrumb is one step of the group chain from the root to the selected node.
type Breadcrumb struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// ResourceMap is the laid-out map of one cluster for one view.
type ResourceMap struct {
	ClusterID   string       `json:"clusterId"`
	Generation  uint64       `json:"generation"`
	IsLoading   bool         `json:"isLoading"`
	View        string       `json:"view"` // encoded view query
	Nodes       []MapNode    `json:"nodes"`
	Edges       []MapEdge    `json:"edges"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs"`
	Width       float64      `json:"width"`
	Height      float64      `json:"height"`
	// ExpandAllIgnored is set when expandAll was requested but the graph was too large.
	ExpandAllIgnored bool      `json:"expandAllIgnored,omitempty"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

// SourceInfo describes one source of the source tree and its selection.
type SourceInfo struct {
	ID       string       `json:"id"`
	Label    string       `json:"label"`
	Kind     string       `json:"kind"`  // leaf or composite
	State    string       `json:"state"` // all, partial, none
	Loading  bool         `json:"loading,omitempty"`
	Nodes    int          `json:"nodes,omitempty"`
	Children []SourceInfo `json:"children,omitempty"`
}

// SourceTree is the response of the sources endpoint.
type SourceTree struct {
	ClusterID  string       `json:"clusterId"`
	Generation uint64       `json:"generation"`
	IsLoading  bool         `json:"isLoading"`
	Sources    []SourceInfo `json:"sources"`
}

// SearchResult is one match of a node search.
type SearchResult struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
	Status    string `json:"status"`
}

// EdgeRef is an edge as seen from one of its endpoints.
type EdgeRef struct {
	ID     string `json:"id"`
	NodeID string `json:"nodeId"`
	Kind   string `json:"kind,omitempty"`
	Name   string `json:"name,omitempty"`
}

// NodeDetails summarizes one resource of the map.
type NodeDetails struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace,omitempty"`
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	GroupPath   []Breadcrumb      `json:"groupPath"`
	Outgoing    []EdgeRef         `json:"outgoing"`
	Incoming    []EdgeRef         `json:"incoming"`
	OwnerKinds  []string          `json:"ownerKinds,omitempty"`
}

// ResourceMapSnapshot stores a serialized ResourceMap for history.
type ResourceMapSnapshot struct {
	ID         string    `json:"id" db:"id"`
	ClusterID  string    `json:"clusterId" db:"cluster_id"`
	View       string    `json:"view" db:"view"`
	Generation int64     `json:"generation" db:"generation"`
	NodeCount  int       `json:"nodeCount" db:"node_count"`
	EdgeCount  int       `json:"edgeCount" db:"edge_count"`
	Data       string    `json:"data,omitempty" db:"data"` // JSON serialized ResourceMap
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

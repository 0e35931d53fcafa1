// Package validate provides input validation for resource map path and query parameters.
package validate

import (
	"regexp"
	"strings"
	"unicode"
)

// ClusterIDMaxLen is the maximum allowed length for clusterId (stored in DB, used in paths).
const ClusterIDMaxLen = 128

// SearchQueryMaxLen bounds the free-text node search.
const SearchQueryMaxLen = 100

// K8s name regex: DNS subdomain (RFC 1123), lowercase alphanumeric, '-' or '.', max 253.
var k8sNameRe = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?(\.[a-z0-9]([-a-z0-9]*[a-z0-9])?)*$`)

// ClusterID validates clusterId from path: alphanumeric, hyphen, underscore; 1–ClusterIDMaxLen.
func ClusterID(id string) bool {
	if id == "" || len(id) > ClusterIDMaxLen {
		return false
	}
	for _, r := range id {
		if isAlnum(r) || r == '-' || r == '_' {
			continue
		}
		return false
	}
	return true
}

// Kind validates Kubernetes resource kind: alphanumeric, no path chars; 1–64 chars.
func Kind(kind string) bool {
	if kind == "" || len(kind) > 64 {
		return false
	}
	for _, r := range kind {
		if !isAlnum(r) {
			return false
		}
	}
	return true
}

// SourceID validates a graph source id. Leaf sources are named after kinds,
// composite ones are lowercase words ("workloads", "network").
func SourceID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		if isAlnum(r) || r == '-' || r == '_' {
			continue
		}
		return false
	}
	return true
}

// NodeID validates a map node id: an object UID, a group id such as
// "Namespace-default" or "group-<uid>", or "root".
func NodeID(id string) bool {
	if id == "" || len(id) > 253 {
		return false
	}
	for _, r := range id {
		if isAlnum(r) || r == '-' || r == '_' || r == '.' || r == ':' {
			continue
		}
		return false
	}
	return true
}

// Namespace validates namespace: empty (cluster-scoped) or valid DNS subdomain.
func Namespace(ns string) bool {
	if ns == "" {
		return true
	}
	if len(ns) > 253 {
		return false
	}
	return k8sNameRe.MatchString(strings.ToLower(ns))
}

// Name validates resource name: valid DNS subdomain.
func Name(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	return k8sNameRe.MatchString(strings.ToLower(name))
}

// SearchQuery trims q and reports whether it is usable as a search term.
func SearchQuery(q string) (string, bool) {
	q = strings.TrimSpace(q)
	if q == "" || len(q) > SearchQueryMaxLen {
		return q, false
	}
	for _, r := range q {
		if unicode.IsControl(r) {
			return q, false
		}
	}
	return q, true
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

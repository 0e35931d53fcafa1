package models

import "time"

// Cluster is a cluster the service builds resource maps for.
type Cluster struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Context      string    `json:"context,omitempty"`
	ServerURL    string    `json:"serverUrl,omitempty"`
	Version      string    `json:"version,omitempty"`
	Status       string    `json:"status"` // connected, error
	CircuitState string    `json:"circuitState"`
	LastError    string    `json:"lastError,omitempty"`
	LastSuccess  time.Time `json:"lastSuccess"`
	Generation   uint64    `json:"generation"`
	Watching     []string  `json:"watching"` // kinds with a running informer
	AddedAt      time.Time `json:"addedAt"`
}

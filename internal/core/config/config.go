// Package config provides configuration management for segmentkeeper services.
package config

import (
	"time"
)

// Contact store backends.
const (
	ContactsSQL    = "sql"
	ContactsMemory = "memory"
)

// ServiceConfig is the full service configuration.
type ServiceConfig struct {
	SegmentAPI SegmentAPIConfig
	Evaluator  EvaluatorConfig
	Reestimate ReestimateConfig
	Contacts   ContactsConfig
	Database   DatabaseConfig
}

// SegmentAPIConfig holds configuration for the HTTP segment API.
type SegmentAPIConfig struct {
	Host             string
	Port             int
	HealthPort       int // gRPC health service; 0 disables it
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	DefaultWorkspace string
}

// EvaluatorConfig tunes segment evaluation.
type EvaluatorConfig struct {
	Timeout      time.Duration
	SampleSize   int
	RetryBackoff time.Duration
}

// ReestimateConfig controls the periodic re-estimation job.
// An empty Schedule disables it.
type ReestimateConfig struct {
	Schedule    string
	Concurrency int
}

// ContactsConfig selects the contact store.
// The memory backend is seeded from File (JSON lines), if set.
type ContactsConfig struct {
	Backend string
	File    string
}

// DatabaseConfig holds the connection URL (sqlite://... or postgres://...).
type DatabaseConfig struct {
	URL string
}

// DefaultServiceConfig returns configuration with default values.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		SegmentAPI: SegmentAPIConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			HealthPort:       8081,
			RequestTimeout:   30 * time.Second,
			MaxBodyBytes:     1 << 20,
			DefaultWorkspace: "default",
		},
		Evaluator: EvaluatorConfig{
			Timeout:      10 * time.Second,
			SampleSize:   25,
			RetryBackoff: 200 * time.Millisecond,
		},
		Reestimate: ReestimateConfig{
			Concurrency: 4,
		},
		Contacts: ContactsConfig{
			Backend: ContactsSQL,
		},
	}
}

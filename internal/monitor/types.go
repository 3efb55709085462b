// Package monitor defines core types shared across subsystems.
package monitor

import (
	"time"
)

// ApplicationStatus is the normalized status vocabulary shared by all plugins.
type ApplicationStatus string

// Normalized status values. Every plugin maps its raw vocabulary into this set.
const (
	StatusNotFound       ApplicationStatus = "not_found"
	StatusProcessing     ApplicationStatus = "processing"
	StatusUnderReview    ApplicationStatus = "under_review"
	StatusApproved       ApplicationStatus = "approved"
	StatusRejected       ApplicationStatus = "rejected"
	StatusReadyForPickup ApplicationStatus = "ready_for_pickup"
	StatusIssued         ApplicationStatus = "issued"
	StatusSuspended      ApplicationStatus = "suspended"
	StatusUnknown        ApplicationStatus = "unknown"
)

// OutcomeKind classifies a single poll attempt.
type OutcomeKind string

// Outcome values recorded per poll attempt.
const (
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeSimulated marks a fabricated result produced when the remote
	// source could not be reached or parsed. It is distinguishable from a
	// genuine success so callers can decide whether to trust it.
	OutcomeSimulated OutcomeKind = "simulated"
	OutcomeError     OutcomeKind = "error"
)

// Entity is one monitored application/case tracked for a user. The record is
// owned by the persistence store; the core reads and updates it per poll.
type Entity struct {
	ID               int64              `json:"id"`
	CountryCode      string             `json:"country_code"`
	QueryCode        string             `json:"query_code"`
	QueryType        string             `json:"query_type"`
	Interval         string             `json:"interval"`
	LatestStatus     ApplicationStatus  `json:"latest_status,omitempty"`
	LatestDetails    string             `json:"latest_details,omitempty"`
	LastChecked      *time.Time         `json:"last_checked,omitempty"`
	LastStatusChange *time.Time         `json:"last_status_change,omitempty"`
	Active           bool               `json:"active"`
}

// QueryResult is the outcome of one poll attempt. It is produced once by a
// plugin, consumed immediately by the engine and never stored as-is.
type QueryResult struct {
	Kind        OutcomeKind
	Status      ApplicationStatus
	Details     string
	LastUpdate  string
	RawExcerpt  string
	Err         string
	LatencyMS   int64
	CompletedAt time.Time
}

// ErrorResult builds an error-kind QueryResult carrying a diagnostic message.
func ErrorResult(msg string) QueryResult {
	return QueryResult{
		Kind:        OutcomeError,
		Err:         msg,
		CompletedAt: time.Now().UTC(),
	}
}

// QueryLogRecord is the append-only row persisted per poll attempt.
type QueryLogRecord struct {
	ID         string            `json:"id"`
	EntityID   int64             `json:"entity_id"`
	Kind       OutcomeKind       `json:"kind"`
	Status     ApplicationStatus `json:"status,omitempty"`
	Details    string            `json:"details,omitempty"`
	ErrText    string            `json:"error,omitempty"`
	RawExcerpt string            `json:"raw_excerpt,omitempty"`
	LatencyMS  int64             `json:"latency_ms"`
	Timestamp  time.Time         `json:"timestamp"`
}

// EntityUpdate captures the mutable entity fields the engine writes after a
// usable poll. A nil LastStatusChange leaves the stored value untouched.
type EntityUpdate struct {
	EntityID         int64
	LatestStatus     ApplicationStatus
	LatestDetails    string
	LastChecked      time.Time
	LastStatusChange *time.Time
}

// StatusChange is handed to the notification dispatcher exactly once per
// detected change.
type StatusChange struct {
	EntityID   int64             `json:"entity_id"`
	OldStatus  ApplicationStatus `json:"old_status"`
	NewStatus  ApplicationStatus `json:"new_status"`
	Details    string            `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// RateLimitPolicy is per-plugin advisory throttling consumed by the registry,
// not enforced inside the plugin itself.
type RateLimitPolicy struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
	MaxConcurrent     int `json:"max_concurrent"`
}

// QueryTypeInfo describes one query type a plugin accepts.
type QueryTypeInfo struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Format      string `json:"format"`
	Example     string `json:"example"`
	Note        string `json:"note,omitempty"`
}

// PluginDescriptor is the immutable metadata the registry exposes per plugin.
type PluginDescriptor struct {
	CountryCode string            `json:"country_code"`
	CountryName string            `json:"country_name"`
	QueryTypes  []QueryTypeInfo   `json:"query_types"`
	RateLimit   RateLimitPolicy   `json:"rate_limit"`
}

// RegistryStats aggregates plugin metadata for operational surfaces.
type RegistryStats struct {
	TotalPlugins       int                `json:"total_plugins"`
	SupportedCountries []string           `json:"supported_countries"`
	Plugins            []PluginDescriptor `json:"plugins"`
}

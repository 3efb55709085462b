package monitor

import (
	"context"
	"errors"
	"time"
)

// ErrEntityNotFound is returned by stores when no entity matches the id.
var ErrEntityNotFound = errors.New("entity not found")

// ErrPollInFlight is returned when a poll is requested for an entity that
// already has one running. At most one poll per entity runs at a time.
var ErrPollInFlight = errors.New("poll already in flight")

// Plugin is the contract every country implementation satisfies. Query may
// block on the network for a bounded time; Validate must be pure and is always
// consulted before any network call.
type Plugin interface {
	CountryCode() string
	CountryName() string
	SupportedQueryTypes() []string
	QueryTypeInfo() []QueryTypeInfo
	Validate(code string, queryType string) bool
	Query(ctx context.Context, code string, queryType string) QueryResult
	TestConnection(ctx context.Context) bool
	RateLimit() RateLimitPolicy
}

// Querier is the registry surface the engine depends on.
type Querier interface {
	Query(ctx context.Context, countryCode string, code string, queryType string) QueryResult
	IsSupported(countryCode string) bool
	QueryTypes(countryCode string) []string
	Validate(countryCode string, code string, queryType string) bool
}

// EntityStore persists monitored entities and their append-only poll log.
// RecordPoll must write the log record and the optional entity update
// atomically: either both land or neither does.
type EntityStore interface {
	GetEntity(ctx context.Context, id int64) (*Entity, error)
	ListActiveEntities(ctx context.Context) ([]*Entity, error)
	RecordPoll(ctx context.Context, rec QueryLogRecord, update *EntityUpdate) error
}

// Notifier hands a detected status change to the downstream dispatcher.
// Delivery/retry semantics are the dispatcher's problem.
type Notifier interface {
	Notify(ctx context.Context, change StatusChange) error
}

// Archiver stores raw response bodies and returns a URI.
type Archiver interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Poller runs one engine cycle for an entity id. The scheduler depends on
// this rather than on the engine directly.
type Poller interface {
	Poll(ctx context.Context, entityID int64) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

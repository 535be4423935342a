package fdk

import (
	"context"
	"time"
)

// Session is a consumer session: a Poller which holds a resource on the
// consumer side that must be released once the caller is done with it.
// Release must be safe to call more than once.
type Session interface {
	Poller
	Release(ctx context.Context) error
}

// OnlineWriter accepts a materialized table for a feature view.
type OnlineWriter interface {
	WriteToOnlineStore(ctx context.Context, view string, table *FeatureTable) error
}

// Archiver keeps a copy of every table ingested from a stream.
type Archiver interface {
	Archive(ctx context.Context, view string, table *FeatureTable) error
}

// OnlineStore holds the latest feature values per entity key.
// Implementations must apply OnlineRow.Supersedes when writing, which makes
// writes idempotent.
type OnlineStore interface {
	OnlineWrite(ctx context.Context, view string, rows []*OnlineRow) error

	// OnlineRead returns one row per key, in key order, with nil for keys
	// which have no stored row.
	OnlineRead(ctx context.Context, view string, keys []EntityKey) ([]*OnlineRow, error)

	// Teardown removes every row of the given views.
	Teardown(ctx context.Context, views []string) error

	Close() error
}

// OfflineStore answers historical queries against a view's batch source.
type OfflineStore interface {
	// PullLatest returns, for each entity key, the latest row whose batch
	// timestamp is within [start, end]. The table has the join keys, the
	// view's features, and the timestamp and created timestamp columns.
	PullLatest(ctx context.Context, view *FeatureView, start, end time.Time) (*FeatureTable, error)

	// PointInTime returns a table with one row per entity row holding the
	// given features as of the time in the entity row's tsColumn, limited
	// to the view's TTL. Missing values are nil.
	PointInTime(ctx context.Context, view *FeatureView, features []string, entities *FeatureTable, tsColumn string) (*FeatureTable, error)

	Close() error
}

// Registry stores applied entities and feature views along with how far each
// view has been materialized.
type Registry interface {
	ApplyEntity(e *Entity) error
	ApplyFeatureView(v *FeatureView) error
	Entities() ([]*Entity, error)
	FeatureViews() ([]*FeatureView, error)

	// MaterializedUntil returns the end of the last materialization of a
	// view, and false if there was none.
	MaterializedUntil(view string) (time.Time, bool, error)
	SetMaterializedUntil(view string, t time.Time) error

	// Teardown deletes everything in the registry.
	Teardown() error
	Close() error
}

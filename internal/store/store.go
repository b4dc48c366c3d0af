// Package store persists orchestration instances, their append-only history
// logs, and the generated analysis reports in an embedded libSQL database.
package store

import "context"

// Store is the persistence interface used by the engine, the watcher, and
// the query surface.
type Store interface {
	// Instances
	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	UpdateInstance(ctx context.Context, id string, update InstanceUpdate) error
	// MarkTerminal transitions a running instance to a terminal status.
	// It fails with an invalid-transition error when the instance is
	// already terminal, which is what keeps terminality monotonic even
	// when a timeout and a late completion race.
	MarkTerminal(ctx context.Context, id string, update InstanceUpdate) error
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error)

	// History events
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, instanceID string, since int64) ([]*Event, error)

	// Reports
	UpsertReport(ctx context.Context, row *ReportRow) error
	GetReport(ctx context.Context, partitionKey, rowKey string) (*ReportRow, error)
	ListReports(ctx context.Context, partitionKey string, limit int) ([]*ReportSummary, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}

// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/SilenceZen/langgraph/domain"
)

// Store persists run traces: the run record, its message history, and its
// event log. This is audit storage for one run, not cross-session memory.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error
	UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, result []byte, errData []byte) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, runID string, limit int) ([]domain.Message, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, runID string, afterTs int64, afterSeq int64, types []string, limit int) ([]domain.Event, error)

	// Lifecycle
	Close() error
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/glitterbucket/internal/audit"
	apperrors "github.com/Adithya-Monish-Kumar-K/glitterbucket/pkg/errors"
)

var (
	// ErrNilEvent is returned by Write when called without an event.
	ErrNilEvent = fmt.Errorf("%w: storage: event is nil", apperrors.ErrPreconditionFailed)
	// ErrUnserializable is returned by Write when no raw text was supplied and
	// the event could not be turned into one.
	ErrUnserializable = fmt.Errorf("%w: storage: event could not be serialized", apperrors.ErrPreconditionFailed)
	// ErrPartitionExists is the conflict a DocumentStore reports when asked to
	// create a partition that is already there.
	ErrPartitionExists = errors.New("storage: partition already exists")
)

// Query describes a history lookup. Language and Version are optional
// filters; Size 0 means no cap. Results are always ordered newest first.
type Query struct {
	Pattern  string
	ItemID   uuid.UUID
	Language *string
	Version  *int
	Size     int
	Fields   []string
}

// DocumentStore is the external store the Client delegates persistence,
// partition management and id uniqueness to.
type DocumentStore interface {
	CreatePartition(ctx context.Context, name string, replicas int) error
	DeletePartition(ctx context.Context, name string) error
	Insert(ctx context.Context, partition string, id uuid.UUID, rec *audit.IndexedRecord) error
	Search(ctx context.Context, q Query) ([]audit.IndexedRecord, error)
	Ping(ctx context.Context) error
}

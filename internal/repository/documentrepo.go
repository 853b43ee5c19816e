// Package repository declares storage contracts for persisted documents and drawings.
package repository

import (
	"context"

	"github.com/and161185/collabify/internal/model"
)

// DocumentRepository stores full-content snapshots for one principal.
// Implementations are bound to their principal at construction.
type DocumentRepository interface {
	// Get returns a single snapshot or errs.ErrNotFound.
	Get(ctx context.Context, kind model.Kind, id string) (*model.DocumentSnapshot, error)

	// Put creates or replaces a snapshot and returns it as stored.
	Put(ctx context.Context, snap model.DocumentSnapshot) (model.DocumentSnapshot, error)

	// List returns summaries ordered by most recent update first.
	List(ctx context.Context, kind model.Kind) ([]model.DocumentSummary, error)

	// Delete removes a snapshot; a missing one is errs.ErrNotFound.
	Delete(ctx context.Context, kind model.Kind, id string) error
}

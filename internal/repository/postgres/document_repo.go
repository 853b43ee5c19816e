package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/collabify/internal/errs"
	"github.com/and161185/collabify/internal/model"
)

// DocumentRepo implements repository.DocumentRepository for a single owner.
type DocumentRepo struct {
	db    *DB
	owner string
}

// NewDocumentRepo constructs a document repository scoped to owner.
func NewDocumentRepo(db *DB, owner string) *DocumentRepo {
	return &DocumentRepo{db: db, owner: owner}
}

// Get returns one snapshot.
func (r *DocumentRepo) Get(ctx context.Context, kind model.Kind, id string) (*model.DocumentSnapshot, error) {
	const q = `
SELECT title, content, updated_at
FROM documents WHERE owner=$1 AND kind=$2 AND id=$3`
	snap := model.DocumentSnapshot{Kind: kind, DocID: id}
	err := r.db.Pool.QueryRow(ctx, q, r.owner, string(kind), id).Scan(&snap.Title, &snap.Content, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &snap, nil
}

// Put upserts a snapshot. An empty title keeps the stored one.
func (r *DocumentRepo) Put(ctx context.Context, snap model.DocumentSnapshot) (model.DocumentSnapshot, error) {
	const q = `
INSERT INTO documents (kind, id, owner, title, content, updated_at)
VALUES ($1,$2,$3,$4,$5,now())
ON CONFLICT (owner, kind, id) DO UPDATE
SET title=COALESCE(NULLIF(EXCLUDED.title,''), documents.title),
    content=EXCLUDED.content,
    updated_at=now()
RETURNING title, updated_at`
	if snap.DocID == "" {
		return model.DocumentSnapshot{}, errors.New("validation: empty document id")
	}
	var ts time.Time
	row := r.db.Pool.QueryRow(ctx, q, string(snap.Kind), snap.DocID, r.owner, snap.Title, snap.Content)
	if err := row.Scan(&snap.Title, &ts); err != nil {
		return model.DocumentSnapshot{}, fmt.Errorf("put %s/%s: %w", snap.Kind, snap.DocID, err)
	}
	snap.UpdatedAt = ts
	return snap, nil
}

// List returns summaries newest first.
func (r *DocumentRepo) List(ctx context.Context, kind model.Kind) ([]model.DocumentSummary, error) {
	const q = `
SELECT id, title, updated_at
FROM documents
WHERE owner=$1 AND kind=$2
ORDER BY updated_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, r.owner, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.DocumentSummary{}
	for rows.Next() {
		var s model.DocumentSummary
		if err = rows.Scan(&s.DocID, &s.Title, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a snapshot.
func (r *DocumentRepo) Delete(ctx context.Context, kind model.Kind, id string) error {
	const q = `DELETE FROM documents WHERE owner=$1 AND kind=$2 AND id=$3`
	tag, err := r.db.Pool.Exec(ctx, q, r.owner, string(kind), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

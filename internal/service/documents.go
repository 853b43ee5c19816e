package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/collabify/internal/errs"
	"github.com/and161185/collabify/internal/model"
	"github.com/and161185/collabify/internal/repository"
)

// DocumentService validates requests against the document store. It
// satisfies engine.Store.
type DocumentService struct {
	repo  repository.DocumentRepository
	token string
	log   *zap.Logger
}

// NewDocumentService constructs a DocumentService. The token is the one the
// repository was built with; requests fail fast without it.
func NewDocumentService(repo repository.DocumentRepository, token string, log *zap.Logger) *DocumentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentService{repo: repo, token: token, log: log}
}

func (s *DocumentService) validate(kind model.Kind, id string, needID bool) (model.Kind, error) {
	if s.token == "" {
		return "", errs.ErrMissingToken
	}
	k, err := model.ParseKind(string(kind))
	if err != nil {
		return "", err
	}
	if needID && id == "" {
		return "", errors.New("validation: empty document id")
	}
	return k, nil
}

// Load returns the saved snapshot; a document never saved loads as empty.
func (s *DocumentService) Load(ctx context.Context, kind model.Kind, id string) (model.DocumentSnapshot, error) {
	k, err := s.validate(kind, id, true)
	if err != nil {
		return model.DocumentSnapshot{}, err
	}
	snap, err := s.repo.Get(ctx, k, id)
	if errors.Is(err, errs.ErrNotFound) {
		s.log.Debug("no saved snapshot", zap.String("kind", string(k)), zap.String("doc", id))
		return model.DocumentSnapshot{Kind: k, DocID: id}, nil
	}
	if err != nil {
		return model.DocumentSnapshot{}, fmt.Errorf("load %s/%s: %w", k, id, err)
	}
	return *snap, nil
}

// Get is Load without the not-found fallback.
func (s *DocumentService) Get(ctx context.Context, kind model.Kind, id string) (model.DocumentSnapshot, error) {
	k, err := s.validate(kind, id, true)
	if err != nil {
		return model.DocumentSnapshot{}, err
	}
	snap, err := s.repo.Get(ctx, k, id)
	if err != nil {
		return model.DocumentSnapshot{}, fmt.Errorf("get %s/%s: %w", k, id, err)
	}
	return *snap, nil
}

// Save persists full content under id.
func (s *DocumentService) Save(ctx context.Context, kind model.Kind, id, content string) (model.DocumentSnapshot, error) {
	return s.SaveTitled(ctx, model.DocumentSnapshot{Kind: kind, DocID: id, Content: content})
}

// SaveTitled persists a snapshot including its title.
func (s *DocumentService) SaveTitled(ctx context.Context, snap model.DocumentSnapshot) (model.DocumentSnapshot, error) {
	k, err := s.validate(snap.Kind, snap.DocID, true)
	if err != nil {
		return model.DocumentSnapshot{}, err
	}
	snap.Kind = k
	out, err := s.repo.Put(ctx, snap)
	if err != nil {
		return model.DocumentSnapshot{}, fmt.Errorf("save %s/%s: %w", k, snap.DocID, err)
	}
	s.log.Info("snapshot saved", zap.String("kind", string(k)), zap.String("doc", snap.DocID), zap.Int("bytes", len(snap.Content)))
	return out, nil
}

// List returns the caller's saved items of kind.
func (s *DocumentService) List(ctx context.Context, kind model.Kind) ([]model.DocumentSummary, error) {
	k, err := s.validate(kind, "", false)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.List(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", k, err)
	}
	return out, nil
}

// Delete removes one saved item.
func (s *DocumentService) Delete(ctx context.Context, kind model.Kind, id string) error {
	k, err := s.validate(kind, id, true)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, k, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", k, id, err)
	}
	return nil
}

// StatusText renders an error as a user-visible status line.
func StatusText(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrMissingToken), errors.Is(err, errs.ErrTokenExpired):
		return "not signed in: run `collab login` first"
	case errors.Is(err, errs.ErrUnauthorized):
		return "not authorized: sign in again"
	case errors.Is(err, errs.ErrNotFound):
		return "not found"
	case errors.Is(err, errs.ErrAlreadyExists):
		return "account already exists: use `collab login`"
	case errors.Is(err, errs.ErrInvalidKind):
		return "unknown kind: use document or drawing"
	}
	return "error: " + err.Error()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/collabify/internal/config"
	"github.com/and161185/collabify/internal/errs"
	"github.com/and161185/collabify/internal/migrate"
	"github.com/and161185/collabify/internal/repository"
	"github.com/and161185/collabify/internal/repository/httpapi"
	"github.com/and161185/collabify/internal/repository/postgres"
	"github.com/and161185/collabify/internal/service"
)

var errNoStore = errors.New("persistence is disabled (store=none)")

// openStore builds the configured document service. The returned close
// function is never nil.
func (a *app) openStore(ctx context.Context) (*service.DocumentService, func(), error) {
	noop := func() {}
	if a.cfg.Token == "" {
		return nil, noop, errs.ErrMissingToken
	}

	var repo repository.DocumentRepository
	closeFn := noop
	switch a.cfg.Store {
	case config.StoreNone:
		return nil, noop, errNoStore
	case config.StoreHTTP:
		repo = httpapi.New(a.cfg.APIURL, a.cfg.Token)
	case config.StorePostgres:
		info, err := service.InspectToken(a.cfg.Token, time.Now())
		if err != nil {
			return nil, noop, fmt.Errorf("resolve document owner: %w", err)
		}
		if err := migrate.Up(ctx, a.cfg.DatabaseDSN); err != nil {
			return nil, noop, err
		}
		db, err := postgres.New(ctx, a.cfg.DatabaseDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("connect postgres: %w", err)
		}
		repo = postgres.NewDocumentRepo(db, info.Subject)
		closeFn = db.Close
	default:
		return nil, noop, fmt.Errorf("unknown store %q", a.cfg.Store)
	}
	a.log.Debug("store opened", zap.String("backend", a.cfg.Store))
	return service.NewDocumentService(repo, a.cfg.Token, a.log), closeFn, nil
}

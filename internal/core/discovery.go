package core

import (
	"context"
	"fmt"

	"repovault/internal/model"
)

// DiscoveryStage enumerates the upstream fleet and persists what it
// finds. A discovery failure aborts the run that depends on it; a stale
// repository list must never silently shrink the backup set.
type DiscoveryStage struct {
	source Source
	store  StateStore
	ledger Ledger
	clock  Clock
	idgen  IDGenerator
	logger Logger
}

// NewDiscoveryStage creates a DiscoveryStage with the provided dependencies.
func NewDiscoveryStage(source Source, store StateStore, ledger Ledger, clock Clock, idgen IDGenerator, logger Logger) *DiscoveryStage {
	return &DiscoveryStage{
		source: source,
		store:  store,
		ledger: ledger,
		clock:  clock,
		idgen:  idgen,
		logger: logger,
	}
}

// Run fetches the current repository set and upserts it into the state
// store, returning the discovered repositories.
func (d *DiscoveryStage) Run(ctx context.Context) ([]*model.Repository, error) {
	repos, err := d.source.ListRepositories(ctx)
	if err != nil {
		d.audit(ctx, err, nil)
		return nil, fmt.Errorf("discovering repositories: %w", err)
	}

	saved := make([]*model.Repository, 0, len(repos))
	for i := range repos {
		repo := repos[i]
		if err := d.store.UpsertRepository(ctx, &repo); err != nil {
			d.audit(ctx, err, map[string]any{"repository": repo.Name})
			return nil, fmt.Errorf("persisting repository %s: %w", repo.Name, err)
		}
		saved = append(saved, &repo)
	}

	d.audit(ctx, nil, map[string]any{"repositories": len(saved)})
	d.logger.Info("discovery persisted", "repositories", len(saved))
	return saved, nil
}

func (d *DiscoveryStage) audit(ctx context.Context, taskErr error, detail map[string]any) {
	appendAudit(ctx, d.ledger, d.idgen, d.clock, d.logger, model.CategoryDiscovery, "fleet", taskErr, detail)
}

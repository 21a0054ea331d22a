package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/opencourse/ms-go-course-payments/app/entity"
)

// ReconciliationRepository owns the write side of payment reconciliation.
// The purchase insert and the journal upsert commit in one transaction so an
// entitlement can never become visible without its journal record, and a
// journal row can never read processed without the purchase it stands for.
type ReconciliationRepository struct {
	db *sql.DB
}

func NewReconciliationRepository(db *sql.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// CommitProcessed records a confirmed payment: the purchase (when non-nil) and
// the journal row marked processed, atomically. A duplicate purchase insert
// means a concurrent delivery already recorded the entitlement; the conflict
// is swallowed and the journal row is still marked processed.
func (r *ReconciliationRepository) CommitProcessed(ctx context.Context, purchase *entity.Purchase, event *entity.WebhookEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if purchase != nil {
		if err := createPurchase(ctx, tx, purchase); err != nil && !errors.Is(err, ErrPurchaseAlreadyExists) {
			return err
		}
	}

	event.Status = entity.WebhookEventStatusProcessed
	event.ErrorMessage = nil
	event.ErrorStack = nil
	if err := upsertWebhookEvent(ctx, tx, event); err != nil {
		return err
	}

	return tx.Commit()
}

// CommitFailed journals a delivery that failed validation, keeping the payload
// and diagnostics for operator triage. Retrying an already-failed event updates
// the same row in place.
func (r *ReconciliationRepository) CommitFailed(ctx context.Context, event *entity.WebhookEvent) error {
	event.Status = entity.WebhookEventStatusFailed
	return upsertWebhookEvent(ctx, r.db, event)
}

// CreatePurchase serves the verify flows, which carry no provider event id and
// therefore write no journal row. A lost race against a concurrent webhook
// delivery surfaces as ErrPurchaseAlreadyExists.
func (r *ReconciliationRepository) CreatePurchase(ctx context.Context, purchase *entity.Purchase) error {
	return createPurchase(ctx, r.db, purchase)
}

package repository

import (
	"context"
	"database/sql"

	"github.com/opencourse/ms-go-course-payments/app/entity"
)

const webhookEventColumns = `id, provider, event_id, event_type, status,
			event_payload, error_message, error_stack, created_at, updated_at`

type WebhookEventRepository struct {
	db DBTX
}

func NewWebhookEventRepository(db DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) FindByEventID(ctx context.Context, provider, eventID string) (*entity.WebhookEvent, error) {
	query := `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events
		WHERE provider = ? AND event_id = ?
		LIMIT 1
	`

	event := &entity.WebhookEvent{}
	if err := scanWebhookEvent(r.db.QueryRowContext(ctx, query, provider, eventID), event); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return event, nil
}

// FindAnyByEventID looks a journal row up by the provider-issued event id
// alone. Stripe and PayPal event ids live in disjoint namespaces, so the admin
// retry path can address a row without naming the provider.
func (r *WebhookEventRepository) FindAnyByEventID(ctx context.Context, eventID string) (*entity.WebhookEvent, error) {
	query := `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events
		WHERE event_id = ?
		LIMIT 1
	`

	event := &entity.WebhookEvent{}
	if err := scanWebhookEvent(r.db.QueryRowContext(ctx, query, eventID), event); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return event, nil
}

func (r *WebhookEventRepository) ListByStatus(ctx context.Context, status string, limit, offset int32) ([]*entity.WebhookEvent, error) {
	query := `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events
	`

	args := make([]interface{}, 0, 3)
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*entity.WebhookEvent, 0)
	for rows.Next() {
		item := &entity.WebhookEvent{}
		if err := scanWebhookEvent(rows, item); err != nil {
			return nil, err
		}
		events = append(events, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// upsertWebhookEvent inserts the journal row or, when a row for
// (provider, event_id) already exists, overwrites its status and
// diagnostics in place. The unique key on (provider, event_id) turns a
// concurrent double-delivery into an update instead of a second row.
func upsertWebhookEvent(ctx context.Context, db DBTX, event *entity.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (
			provider, event_id, event_type, status, event_payload, error_message, error_stack, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			event_type = VALUES(event_type),
			status = VALUES(status),
			event_payload = VALUES(event_payload),
			error_message = VALUES(error_message),
			error_stack = VALUES(error_stack),
			updated_at = VALUES(updated_at)
	`

	result, err := db.ExecContext(ctx, query,
		event.Provider,
		event.EventID,
		event.EventType,
		event.Status,
		event.EventPayload,
		nullableStringValue(event.ErrorMessage),
		nullableStringValue(event.ErrorStack),
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if id, err := result.LastInsertId(); err == nil && id > 0 {
		event.ID = uint64(id)
	}
	return nil
}

func scanWebhookEvent(scan rowScanner, event *entity.WebhookEvent) error {
	var errorMessage sql.NullString
	var errorStack sql.NullString

	err := scan.Scan(
		&event.ID,
		&event.Provider,
		&event.EventID,
		&event.EventType,
		&event.Status,
		&event.EventPayload,
		&errorMessage,
		&errorStack,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return err
	}

	event.ErrorMessage = stringPtrFromNull(errorMessage)
	event.ErrorStack = stringPtrFromNull(errorStack)

	return nil
}

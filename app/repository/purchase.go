package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/opencourse/ms-go-course-payments/app/entity"
)

var ErrPurchaseAlreadyExists = errors.New("purchase already exists")

const purchaseColumns = `id, user_id, course_id, source,
			stripe_session_id, stripe_payment_intent_id, paypal_order_id, paypal_capture_id,
			amount_cents, currency, created_at`

type PurchaseRepository struct {
	db DBTX
}

func NewPurchaseRepository(db DBTX) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

func (r *PurchaseRepository) Create(ctx context.Context, purchase *entity.Purchase) error {
	return createPurchase(ctx, r.db, purchase)
}

func (r *PurchaseRepository) FindByUserAndCourse(ctx context.Context, userID, courseID uint64) (*entity.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE user_id = ? AND course_id = ?
		LIMIT 1
	`

	purchase := &entity.Purchase{}
	if err := scanPurchase(r.db.QueryRowContext(ctx, query, userID, courseID), purchase); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return purchase, nil
}

func (r *PurchaseRepository) ListByUser(ctx context.Context, userID uint64) ([]*entity.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE user_id = ?
		ORDER BY id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]*entity.Purchase, 0)
	for rows.Next() {
		item := &entity.Purchase{}
		if err := scanPurchase(rows, item); err != nil {
			return nil, err
		}
		purchases = append(purchases, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return purchases, nil
}

func createPurchase(ctx context.Context, db DBTX, purchase *entity.Purchase) error {
	query := `
		INSERT INTO purchases (
			user_id, course_id, source,
			stripe_session_id, stripe_payment_intent_id, paypal_order_id, paypal_capture_id,
			amount_cents, currency, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.ExecContext(ctx, query,
		purchase.UserID,
		purchase.CourseID,
		purchase.Source,
		nullableStringValue(purchase.StripeSessionID),
		nullableStringValue(purchase.StripePaymentIntentID),
		nullableStringValue(purchase.PayPalOrderID),
		nullableStringValue(purchase.PayPalCaptureID),
		purchase.AmountCents,
		purchase.Currency,
		purchase.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPurchaseAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	purchase.ID = uint64(id)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPurchase(scan rowScanner, purchase *entity.Purchase) error {
	var stripeSessionID sql.NullString
	var stripePaymentIntentID sql.NullString
	var paypalOrderID sql.NullString
	var paypalCaptureID sql.NullString

	err := scan.Scan(
		&purchase.ID,
		&purchase.UserID,
		&purchase.CourseID,
		&purchase.Source,
		&stripeSessionID,
		&stripePaymentIntentID,
		&paypalOrderID,
		&paypalCaptureID,
		&purchase.AmountCents,
		&purchase.Currency,
		&purchase.CreatedAt,
	)
	if err != nil {
		return err
	}

	purchase.StripeSessionID = stringPtrFromNull(stripeSessionID)
	purchase.StripePaymentIntentID = stringPtrFromNull(stripePaymentIntentID)
	purchase.PayPalOrderID = stringPtrFromNull(paypalOrderID)
	purchase.PayPalCaptureID = stringPtrFromNull(paypalCaptureID)

	return nil
}

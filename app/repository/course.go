package repository

import (
	"context"
	"database/sql"

	"github.com/opencourse/ms-go-course-payments/app/entity"
)

// CourseRepository is a read-only view of the course catalog owned by the
// course-management service. This service never writes courses.
type CourseRepository struct {
	db DBTX
}

func NewCourseRepository(db DBTX) *CourseRepository {
	return &CourseRepository{db: db}
}

func (r *CourseRepository) FindByID(ctx context.Context, id uint64) (*entity.Course, error) {
	query := `
		SELECT id, title, is_paid, currency, price_cents
		FROM courses
		WHERE id = ?
	`

	course := &entity.Course{}
	var currency sql.NullString
	var priceCents sql.NullInt64

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&course.ID,
		&course.Title,
		&course.IsPaid,
		&currency,
		&priceCents,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	course.Currency = stringPtrFromNull(currency)
	if priceCents.Valid {
		n := priceCents.Int64
		course.PriceCents = &n
	}

	return course, nil
}

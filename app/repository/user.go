package repository

import (
	"context"
	"database/sql"

	"github.com/opencourse/ms-go-course-payments/app/entity"
)

// UserRepository is a read-only view of the account store owned by the
// accounts service.
type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id uint64) (*entity.User, error) {
	query := `
		SELECT id, email
		FROM users
		WHERE id = ?
	`

	user := &entity.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

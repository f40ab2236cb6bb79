package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/readreceipts/internal/models"
)

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

func (r *userRepo) Create(ctx context.Context, user *models.UserProfile) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, first_name, last_name)
		 VALUES ($1, $2, $3, $4)`,
		user.ID, user.Username, user.FirstName, user.LastName,
	)
	return err
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	u := &models.UserProfile{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, first_name, last_name
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (r *userRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/readreceipts/internal/models"
)

type postRepo struct {
	pool *pgxpool.Pool
}

func NewPostRepository(pool *pgxpool.Pool) PostRepository {
	return &postRepo{pool: pool}
}

func (r *postRepo) Create(ctx context.Context, post *models.Post) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO posts (id, channel_id, user_id, create_at)
		 VALUES ($1, $2, $3, $4)`,
		post.ID, post.ChannelID, post.UserID, post.CreateAt,
	)
	return err
}

func (r *postRepo) GetByID(ctx context.Context, id string) (*models.Post, error) {
	p := &models.Post{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, channel_id, user_id, create_at FROM posts WHERE id = $1`, id,
	).Scan(&p.ID, &p.ChannelID, &p.UserID, &p.CreateAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *postRepo) GetLatestInChannel(ctx context.Context, channelID string) (*models.Post, error) {
	p := &models.Post{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, channel_id, user_id, create_at FROM posts
		 WHERE channel_id = $1
		 ORDER BY create_at DESC, id DESC
		 LIMIT 1`, channelID,
	).Scan(&p.ID, &p.ChannelID, &p.UserID, &p.CreateAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *postRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	return err
}

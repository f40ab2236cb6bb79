package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type channelMemberRepo struct {
	pool *pgxpool.Pool
}

func NewChannelMemberRepository(pool *pgxpool.Pool) ChannelMemberRepository {
	return &channelMemberRepo{pool: pool}
}

func (r *channelMemberRepo) Add(ctx context.Context, channelID, userID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO channel_members (channel_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		channelID, userID,
	)
	return err
}

func (r *channelMemberRepo) Remove(ctx context.Context, channelID, userID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID,
	)
	return err
}

func (r *channelMemberRepo) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id = $1 AND user_id = $2)`,
		channelID, userID,
	).Scan(&exists)
	return exists, err
}

func (r *channelMemberRepo) GetChannelIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT channel_id FROM channel_members WHERE user_id = $1 ORDER BY channel_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

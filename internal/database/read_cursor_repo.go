package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/victorivanov/readreceipts/internal/models"
)

type readCursorRepo struct {
	pool *pgxpool.Pool
}

func NewReadCursorRepository(pool *pgxpool.Pool) ReadCursorRepository {
	return &readCursorRepo{pool: pool}
}

func (r *readCursorRepo) Get(ctx context.Context, channelID, userID string) (*models.ReadCursor, error) {
	c := &models.ReadCursor{}
	err := r.pool.QueryRow(ctx,
		`SELECT channel_id, user_id, last_post_seq, last_post_id, updated_at
		 FROM read_cursors
		 WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID,
	).Scan(&c.ChannelID, &c.UserID, &c.LastPostSeq, &c.LastPostID, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *readCursorRepo) Upsert(ctx context.Context, cursor *models.ReadCursor) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO read_cursors (channel_id, user_id, last_post_seq, last_post_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (channel_id, user_id)
		 DO UPDATE SET last_post_seq = EXCLUDED.last_post_seq,
		               last_post_id = EXCLUDED.last_post_id,
		               updated_at = EXCLUDED.updated_at
		 WHERE read_cursors.last_post_seq < EXCLUDED.last_post_seq`,
		cursor.ChannelID, cursor.UserID, cursor.LastPostSeq, cursor.LastPostID, cursor.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *readCursorRepo) GetForUser(ctx context.Context, userID string) ([]models.ReadCursor, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT channel_id, user_id, last_post_seq, last_post_id, updated_at
		 FROM read_cursors
		 WHERE user_id = $1
		 ORDER BY channel_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cursors []models.ReadCursor
	for rows.Next() {
		var c models.ReadCursor
		if err := rows.Scan(&c.ChannelID, &c.UserID, &c.LastPostSeq, &c.LastPostID, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cursors = append(cursors, c)
	}
	return cursors, rows.Err()
}

func (r *readCursorRepo) CountReaders(ctx context.Context, channelID string, seq int64, excludeUserID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM read_cursors rc
		 JOIN channel_members cm ON cm.channel_id = rc.channel_id AND cm.user_id = rc.user_id
		 WHERE rc.channel_id = $1 AND rc.last_post_seq >= $2 AND rc.user_id <> $3`,
		channelID, seq, excludeUserID,
	).Scan(&count)
	return count, err
}

func (r *readCursorRepo) GetReaders(ctx context.Context, channelID string, seq int64, excludeUserID string, limit int) ([]models.UserProfile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.username, u.first_name, u.last_name
		 FROM read_cursors rc
		 JOIN channel_members cm ON cm.channel_id = rc.channel_id AND cm.user_id = rc.user_id
		 JOIN users u ON u.id = rc.user_id
		 WHERE rc.channel_id = $1 AND rc.last_post_seq >= $2 AND rc.user_id <> $3
		 ORDER BY rc.updated_at, u.id
		 LIMIT $4`,
		channelID, seq, excludeUserID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readers []models.UserProfile
	for rows.Next() {
		var u models.UserProfile
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName); err != nil {
			return nil, err
		}
		readers = append(readers, u)
	}
	return readers, rows.Err()
}

func (r *readCursorRepo) DeleteOlderThan(ctx context.Context, olderThan int64) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM read_cursors WHERE updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

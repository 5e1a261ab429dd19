package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
)

// UpsertStream registers a stream as started, or restarts an existing one.
func (d *Database) UpsertStream(ctx context.Context, stream *models.Stream) error {
	now := time.Now()
	stream.CreatedAt = now
	stream.UpdatedAt = now

	_, err := d.querier(ctx).ExecContext(ctx,
		`INSERT INTO streams (id, action, stream_type, url, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET action = $7, stream_type = $3, url = $4, updated_at = NOW()`,
		stream.ID,
		stream.Action,
		stream.StreamType,
		stream.URL,
		stream.CreatedAt,
		stream.UpdatedAt,
		models.CommandStart,
	)

	return err
}

func (d *Database) GetStream(ctx context.Context, streamID string) (*models.Stream, error) {
	row := d.querier(ctx).QueryRowContext(ctx, `
		SELECT id, action, stream_type, url, created_at, updated_at
		FROM streams
		WHERE id = $1
	`, streamID)

	var stream models.Stream
	err := row.Scan(
		&stream.ID,
		&stream.Action,
		&stream.StreamType,
		&stream.URL,
		&stream.CreatedAt,
		&stream.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Поток не найден - это не ошибка
		}
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	return &stream, nil
}

// GetInactiveStreams retrieves stopped streams
func (d *Database) GetInactiveStreams(ctx context.Context) ([]models.Stream, error) {
	rows, err := d.querier(ctx).QueryContext(ctx, `
		SELECT id, action, stream_type, url, created_at, updated_at
		FROM streams
		WHERE action = $1
	`, models.CommandStop)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []models.Stream
	for rows.Next() {
		var s models.Stream
		err := rows.Scan(
			&s.ID,
			&s.Action,
			&s.StreamType,
			&s.URL,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}

	return streams, rows.Err()
}

func (d *Database) ChangeStreamAction(ctx context.Context, streamID string, newAction models.CommandAction) error {
	_, err := d.querier(ctx).ExecContext(ctx,
		"UPDATE streams SET action = $1, updated_at = $2 WHERE id = $3",
		newAction,
		time.Now(),
		streamID,
	)

	return err
}

func (d *Database) UpdateStreamTimestamp(ctx context.Context, streamID string) error {
	_, err := d.querier(ctx).ExecContext(ctx,
		"UPDATE streams SET updated_at = $1 WHERE id = $2",
		time.Now(),
		streamID,
	)

	return err
}

package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
)

const (
	imageKindColor = "color"
	imageKindGray  = "gray"
)

// SaveImages stores the movement and both encoded frames in one transaction.
func (d *Database) SaveImages(ctx context.Context, movement models.Movement, color, gray []byte) error {
	return d.InTx(ctx, func(ctx context.Context) error {
		movementID := uuid.New().String()

		_, err := d.querier(ctx).ExecContext(ctx,
			"INSERT INTO movements (id, timestamp, description) VALUES ($1, $2, $3)",
			movementID,
			movement.Timestamp,
			movement.Description,
		)
		if err != nil {
			return fmt.Errorf("failed to insert movement: %w", err)
		}

		for _, img := range []struct {
			kind string
			data []byte
		}{
			{imageKindColor, color},
			{imageKindGray, gray},
		} {
			_, err := d.querier(ctx).ExecContext(ctx,
				"INSERT INTO images (id, movement_id, kind, data) VALUES ($1, $2, $3, $4)",
				uuid.New().String(),
				movementID,
				img.kind,
				img.data,
			)
			if err != nil {
				return fmt.Errorf("failed to insert %s image: %w", img.kind, err)
			}
		}

		return nil
	})
}

// ListMovements returns up to limit persisted movements, newest first.
func (d *Database) ListMovements(ctx context.Context, limit int) ([]models.Movement, error) {
	rows, err := d.querier(ctx).QueryContext(ctx, `
		SELECT timestamp, description
		FROM movements
		ORDER BY timestamp DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	defer rows.Close()

	movements := make([]models.Movement, 0)
	for rows.Next() {
		var m models.Movement
		if err := rows.Scan(&m.Timestamp, &m.Description); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}

	return movements, rows.Err()
}

// Package inbox remembers which consumed events were already applied so that
// redelivered Kafka messages become no-ops.
package inbox

import (
	"context"
	"errors"

	"github.com/pawtrack/vetbook/libs/db"
)

var errEmptyEventID = errors.New("inbox: empty event id")

// Recorder deduplicates consumed events by id.
type Recorder interface {
	// Record returns true the first time eventID is seen.
	Record(ctx context.Context, eventID, eventType string) (bool, error)
	// Forget drops eventID so a later delivery is applied again.
	Forget(ctx context.Context, eventID string) error
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	if eventID == "" {
		return false, errEmptyEventID
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) Forget(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, eventID)
	return err
}

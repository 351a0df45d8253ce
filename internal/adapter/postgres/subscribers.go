package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
)

// SubscriberStore is the directory of people registered for alerts.
type SubscriberStore struct {
	db    DBTX
	clock clockwork.Clock
}

// NewSubscriberStore creates a SubscriberStore.
func NewSubscriberStore(db DBTX, clock clockwork.Clock) *SubscriberStore {
	return &SubscriberStore{db: db, clock: clock}
}

// Register stores a new subscriber with a generated "sub_" ID and a normalized
// home location. A duplicate email returns domain.ErrSubscriberExists.
func (s *SubscriberStore) Register(ctx context.Context, sub domain.Subscriber) (domain.Subscriber, error) {
	sub.ID = "sub_" + uuid.New().String()
	sub.HomeLocation = domain.NormalizeLocation(sub.HomeLocation)
	sub.CreatedAt = s.clock.Now().UTC().Truncate(time.Microsecond)

	_, err := s.db.Exec(ctx,
		`INSERT INTO subscribers (id, name, email, home_location, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sub.ID, sub.Name, sub.Email, sub.HomeLocation, sub.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.Subscriber{}, domain.ErrSubscriberExists
	}
	if err != nil {
		return domain.Subscriber{}, fmt.Errorf("insert subscriber: %w", err)
	}
	return sub, nil
}

// ByLocation returns the subscribers whose home location matches the
// normalized location, oldest registration first.
func (s *SubscriberStore) ByLocation(ctx context.Context, location string) ([]domain.Subscriber, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, email, home_location, created_at
		 FROM subscribers WHERE home_location = $1 ORDER BY created_at`,
		domain.NormalizeLocation(location),
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var sub domain.Subscriber
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Email, &sub.HomeLocation, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return subs, nil
}

// Delete removes a subscriber by ID or returns domain.ErrSubscriberNotFound.
func (s *SubscriberStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM subscribers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscriber %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriberNotFound
	}
	return nil
}

package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cldcde/pulse/internal/platform/id"
)

var (
	// ErrNotFound indicates an activity record was not found.
	ErrNotFound = errors.New("activity event not found")
	// ErrConflict indicates an append collided with an existing event id.
	ErrConflict = errors.New("activity event conflict")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("activity store is not configured")
	// ErrIDGeneratorNotConfigured indicates an ID generator is required.
	ErrIDGeneratorNotConfigured = errors.New("activity id generator is not configured")
	// ErrIDGeneratorExhausted indicates a fixed test ID sequence was exhausted.
	ErrIDGeneratorExhausted = errors.New("activity id generator exhausted")
)

const (
	defaultBackfillLimit = 50
	maxBackfillLimit     = 200

	// DefaultRetention bounds how long appended events stay queryable.
	DefaultRetention = 7 * 24 * time.Hour
)

// Store is the domain persistence boundary for the activity log.
type Store interface {
	AppendEvent(ctx context.Context, event Event) error
	ListEventsSince(ctx context.Context, since time.Time, limit int) ([]Event, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PutTargetOwner(ctx context.Context, targetType TargetType, targetID string, ownerUserID string) error
	GetTargetOwner(ctx context.Context, targetType TargetType, targetID string) (string, error)
}

// Service orchestrates activity log lifecycle behavior: mutation ingest,
// backfill queries, and retention sweeps.
type Service struct {
	store     Store
	clock     func() time.Time
	newID     func() (string, error)
	retention time.Duration
}

// NewService constructs activity domain use-cases.
func NewService(store Store, clock func() time.Time, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store:     store,
		clock:     clock,
		newID:     newID,
		retention: DefaultRetention,
	}
}

// SetRetention overrides the retention window used by Sweep.
func (s *Service) SetRetention(window time.Duration) {
	if s == nil || window <= 0 {
		return
	}
	s.retention = window
}

// Record normalizes one source mutation and appends its events to the log.
//
// Appends are idempotent by event id: events whose id already exists are
// skipped, and only freshly appended events are returned, so a replayed
// mutation never re-fires a milestone.
func (s *Service) Record(ctx context.Context, mutation Mutation) ([]Event, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if s.newID == nil {
		return nil, ErrIDGeneratorNotConfigured
	}

	eventID, err := s.newID()
	if err != nil {
		return nil, err
	}
	events, err := Normalize(mutation, eventID, s.nowUTC())
	if err != nil {
		return nil, err
	}

	appended := make([]Event, 0, len(events))
	for _, event := range events {
		if err := s.store.AppendEvent(ctx, event); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return appended, err
		}
		appended = append(appended, event)
	}

	if err := s.recordOwnership(ctx, appended); err != nil {
		return appended, err
	}
	return appended, nil
}

// recordOwnership learns target ownership from catalog publication events so
// notification recipients resolve without a catalog round-trip.
func (s *Service) recordOwnership(ctx context.Context, events []Event) error {
	for _, event := range events {
		if event.Type != TypeExtensionAdded && event.Type != TypeMCPAdded {
			continue
		}
		if event.TargetID == "" || event.ActorID == "" {
			continue
		}
		if err := s.store.PutTargetOwner(ctx, event.TargetType, event.TargetID, event.ActorID); err != nil {
			return err
		}
	}
	return nil
}

// Backfill lists events appended at or after since, oldest first.
func (s *Service) Backfill(ctx context.Context, since time.Time, limit int) ([]Event, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	switch {
	case limit <= 0:
		limit = defaultBackfillLimit
	case limit > maxBackfillLimit:
		limit = maxBackfillLimit
	}
	return s.store.ListEventsSince(ctx, since.UTC(), limit)
}

// Owner resolves the recorded owner of a catalog target. Returns ErrNotFound
// when no ownership has been learned for the target.
func (s *Service) Owner(ctx context.Context, targetType TargetType, targetID string) (string, error) {
	if s == nil || s.store == nil {
		return "", ErrStoreNotConfigured
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return "", ErrNotFound
	}
	return s.store.GetTargetOwner(ctx, targetType, targetID)
}

// Sweep removes events older than the retention window and reports how many
// rows were deleted. Events inside the window are never touched, regardless
// of how often Sweep runs.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	if s == nil || s.store == nil {
		return 0, ErrStoreNotConfigured
	}
	cutoff := s.nowUTC().Add(-s.retention)
	return s.store.DeleteEventsBefore(ctx, cutoff)
}

func (s *Service) nowUTC() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

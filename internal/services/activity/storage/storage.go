// Package storage defines persistence records and the store contract for the
// activity log.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("activity storage: record not found")
	// ErrConflict indicates a write collided with an existing primary key.
	ErrConflict = errors.New("activity storage: record conflict")
)

// EventRecord is one persisted activity log row.
type EventRecord struct {
	ID           string
	EventType    string
	ActorUserID  string
	ActorName    string
	TargetID     string
	TargetName   string
	TargetType   string
	MetadataJSON string
	CreatedAt    time.Time
}

// OwnerRecord maps one catalog target to its owning user.
type OwnerRecord struct {
	TargetType  string
	TargetID    string
	OwnerUserID string
	UpdatedAt   time.Time
}

// Store is the persistence boundary for activity events and target ownership.
type Store interface {
	AppendEvent(ctx context.Context, record EventRecord) error
	ListEventsSince(ctx context.Context, since time.Time, limit int) ([]EventRecord, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PutTargetOwner(ctx context.Context, record OwnerRecord) error
	GetTargetOwner(ctx context.Context, targetType string, targetID string) (OwnerRecord, error)
}

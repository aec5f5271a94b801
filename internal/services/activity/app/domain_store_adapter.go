package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cldcde/pulse/internal/services/activity/domain"
	"github.com/cldcde/pulse/internal/services/activity/storage"
)

// domainStoreAdapter implements domain.Store on top of the storage contract,
// translating records and sentinel errors at the boundary.
type domainStoreAdapter struct {
	store storage.Store
}

func newDomainStoreAdapter(store storage.Store) *domainStoreAdapter {
	return &domainStoreAdapter{store: store}
}

func (a *domainStoreAdapter) AppendEvent(ctx context.Context, event domain.Event) error {
	metadataJSON := "{}"
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("encode event metadata: %w", err)
		}
		metadataJSON = string(raw)
	}
	err := a.store.AppendEvent(ctx, storage.EventRecord{
		ID:           event.ID,
		EventType:    string(event.Type),
		ActorUserID:  event.ActorID,
		ActorName:    event.ActorName,
		TargetID:     event.TargetID,
		TargetName:   event.TargetName,
		TargetType:   string(event.TargetType),
		MetadataJSON: metadataJSON,
		CreatedAt:    event.Timestamp,
	})
	if errors.Is(err, storage.ErrConflict) {
		return domain.ErrConflict
	}
	return err
}

func (a *domainStoreAdapter) ListEventsSince(ctx context.Context, since time.Time, limit int) ([]domain.Event, error) {
	records, err := a.store.ListEventsSince(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	events := make([]domain.Event, 0, len(records))
	for _, record := range records {
		event, err := eventFromRecord(record)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (a *domainStoreAdapter) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return a.store.DeleteEventsBefore(ctx, cutoff)
}

func (a *domainStoreAdapter) PutTargetOwner(ctx context.Context, targetType domain.TargetType, targetID string, ownerUserID string) error {
	return a.store.PutTargetOwner(ctx, storage.OwnerRecord{
		TargetType:  string(targetType),
		TargetID:    targetID,
		OwnerUserID: ownerUserID,
		UpdatedAt:   time.Now().UTC(),
	})
}

func (a *domainStoreAdapter) GetTargetOwner(ctx context.Context, targetType domain.TargetType, targetID string) (string, error) {
	record, err := a.store.GetTargetOwner(ctx, string(targetType), targetID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return record.OwnerUserID, nil
}

func eventFromRecord(record storage.EventRecord) (domain.Event, error) {
	event := domain.Event{
		ID:         record.ID,
		Type:       domain.EventType(record.EventType),
		Timestamp:  record.CreatedAt,
		ActorID:    record.ActorUserID,
		ActorName:  record.ActorName,
		TargetID:   record.TargetID,
		TargetName: record.TargetName,
		TargetType: domain.TargetType(record.TargetType),
	}
	if record.MetadataJSON != "" && record.MetadataJSON != "{}" {
		metadata := make(map[string]string)
		if err := json.Unmarshal([]byte(record.MetadataJSON), &metadata); err != nil {
			return domain.Event{}, fmt.Errorf("decode event %s metadata: %w", record.ID, err)
		}
		event.Metadata = metadata
	}
	return event, nil
}

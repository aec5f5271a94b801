// Package app bridges notification domain contracts onto storage.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/cldcde/pulse/internal/services/notifications/domain"
	"github.com/cldcde/pulse/internal/services/notifications/storage"
)

// DomainStoreAdapter implements domain.Store on top of the storage contract.
type DomainStoreAdapter struct {
	store storage.Store
}

// NewDomainStoreAdapter wraps a notification store for domain use.
func NewDomainStoreAdapter(store storage.Store) *DomainStoreAdapter {
	return &DomainStoreAdapter{store: store}
}

func (a *DomainStoreAdapter) GetNotificationByRecipientAndDedupeKey(ctx context.Context, recipientUserID string, dedupeKey string) (domain.Notification, error) {
	if a == nil || a.store == nil {
		return domain.Notification{}, domain.ErrStoreNotConfigured
	}
	record, err := a.store.GetNotificationByRecipientAndDedupeKey(ctx, recipientUserID, dedupeKey)
	if err != nil {
		return domain.Notification{}, mapStorageError(err)
	}
	return toDomainNotification(record), nil
}

func (a *DomainStoreAdapter) PutNotification(ctx context.Context, notification domain.Notification) error {
	if a == nil || a.store == nil {
		return domain.ErrStoreNotConfigured
	}
	if err := a.store.PutNotification(ctx, toStorageNotification(notification)); err != nil {
		return mapStorageError(err)
	}
	return nil
}

func (a *DomainStoreAdapter) ListNotificationsByRecipient(ctx context.Context, recipientUserID string, pageSize int, pageToken string) (domain.NotificationPage, error) {
	if a == nil || a.store == nil {
		return domain.NotificationPage{}, domain.ErrStoreNotConfigured
	}
	page, err := a.store.ListNotificationsByRecipient(ctx, recipientUserID, pageSize, pageToken)
	if err != nil {
		return domain.NotificationPage{}, mapStorageError(err)
	}
	result := domain.NotificationPage{
		Notifications: make([]domain.Notification, 0, len(page.Notifications)),
		NextPageToken: page.NextPageToken,
	}
	for _, record := range page.Notifications {
		result.Notifications = append(result.Notifications, toDomainNotification(record))
	}
	return result, nil
}

func (a *DomainStoreAdapter) CountUnreadByRecipient(ctx context.Context, recipientUserID string) (int, error) {
	if a == nil || a.store == nil {
		return 0, domain.ErrStoreNotConfigured
	}
	unreadCount, err := a.store.CountUnreadByRecipient(ctx, recipientUserID)
	if err != nil {
		return 0, mapStorageError(err)
	}
	return unreadCount, nil
}

func (a *DomainStoreAdapter) MarkNotificationRead(ctx context.Context, recipientUserID string, notificationID string, readAt time.Time) (domain.Notification, error) {
	if a == nil || a.store == nil {
		return domain.Notification{}, domain.ErrStoreNotConfigured
	}
	record, err := a.store.MarkNotificationRead(ctx, recipientUserID, notificationID, readAt)
	if err != nil {
		return domain.Notification{}, mapStorageError(err)
	}
	return toDomainNotification(record), nil
}

func toStorageNotification(notification domain.Notification) storage.NotificationRecord {
	return storage.NotificationRecord{
		ID:              notification.ID,
		RecipientUserID: notification.RecipientUserID,
		Topic:           notification.Topic,
		Title:           notification.Title,
		Body:            notification.Body,
		PayloadJSON:     notification.PayloadJSON,
		DedupeKey:       notification.DedupeKey,
		SourceEventID:   notification.SourceEventID,
		CreatedAt:       notification.CreatedAt,
		UpdatedAt:       notification.UpdatedAt,
		ReadAt:          notification.ReadAt,
	}
}

func toDomainNotification(record storage.NotificationRecord) domain.Notification {
	return domain.Notification{
		ID:              record.ID,
		RecipientUserID: record.RecipientUserID,
		Topic:           record.Topic,
		Title:           record.Title,
		Body:            record.Body,
		PayloadJSON:     record.PayloadJSON,
		DedupeKey:       record.DedupeKey,
		SourceEventID:   record.SourceEventID,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
		ReadAt:          record.ReadAt,
	}
}

func mapStorageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return domain.ErrNotFound
	case errors.Is(err, storage.ErrConflict):
		return domain.ErrConflict
	default:
		return err
	}
}

package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	activitydomain "github.com/cldcde/pulse/internal/services/activity/domain"
	notifdomain "github.com/cldcde/pulse/internal/services/notifications/domain"
)

type fakeActivityStore struct {
	mu     sync.Mutex
	events map[string]activitydomain.Event
	owners map[string]string
}

func newFakeActivityStore() *fakeActivityStore {
	return &fakeActivityStore{
		events: make(map[string]activitydomain.Event),
		owners: make(map[string]string),
	}
}

func (f *fakeActivityStore) AppendEvent(_ context.Context, event activitydomain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[event.ID]; ok {
		return activitydomain.ErrConflict
	}
	f.events[event.ID] = event
	return nil
}

func (f *fakeActivityStore) ListEventsSince(_ context.Context, since time.Time, limit int) ([]activitydomain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]activitydomain.Event, 0, len(f.events))
	for _, event := range f.events {
		if !event.Timestamp.Before(since) {
			events = append(events, event)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID < events[j].ID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (f *fakeActivityStore) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for id, event := range f.events {
		if event.Timestamp.Before(cutoff) {
			delete(f.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeActivityStore) PutTargetOwner(_ context.Context, targetType activitydomain.TargetType, targetID string, ownerUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners[string(targetType)+"/"+targetID] = ownerUserID
	return nil
}

func (f *fakeActivityStore) GetTargetOwner(_ context.Context, targetType activitydomain.TargetType, targetID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.owners[string(targetType)+"/"+targetID]
	if !ok {
		return "", activitydomain.ErrNotFound
	}
	return owner, nil
}

type fakeNotificationStore struct {
	mu            sync.Mutex
	notifications map[string]notifdomain.Notification
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{notifications: make(map[string]notifdomain.Notification)}
}

func (f *fakeNotificationStore) GetNotificationByRecipientAndDedupeKey(_ context.Context, recipientUserID string, dedupeKey string) (notifdomain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, notification := range f.notifications {
		if notification.RecipientUserID == recipientUserID && notification.DedupeKey == dedupeKey {
			return notification, nil
		}
	}
	return notifdomain.Notification{}, notifdomain.ErrNotFound
}

func (f *fakeNotificationStore) PutNotification(_ context.Context, notification notifdomain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.notifications[notification.ID]; ok {
		return notifdomain.ErrConflict
	}
	f.notifications[notification.ID] = notification
	return nil
}

func (f *fakeNotificationStore) ListNotificationsByRecipient(_ context.Context, recipientUserID string, pageSize int, _ string) (notifdomain.NotificationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]notifdomain.Notification, 0, len(f.notifications))
	for _, notification := range f.notifications {
		if notification.RecipientUserID == recipientUserID {
			items = append(items, notification)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}
	return notifdomain.NotificationPage{Notifications: items}, nil
}

func (f *fakeNotificationStore) CountUnreadByRecipient(_ context.Context, recipientUserID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, notification := range f.notifications {
		if notification.RecipientUserID == recipientUserID && notification.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (f *fakeNotificationStore) MarkNotificationRead(_ context.Context, recipientUserID string, notificationID string, readAt time.Time) (notifdomain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	notification, ok := f.notifications[notificationID]
	if !ok || notification.RecipientUserID != recipientUserID {
		return notifdomain.Notification{}, notifdomain.ErrNotFound
	}
	if notification.ReadAt == nil {
		stamped := readAt.UTC()
		notification.ReadAt = &stamped
		notification.UpdatedAt = stamped
		f.notifications[notificationID] = notification
	}
	return notification, nil
}

func sequentialIDGenerator(prefix string) func() (string, error) {
	index := 0
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		index++
		return fmt.Sprintf("%s-%03d", prefix, index), nil
	}
}

func newTestServices() (*activitydomain.Service, *notifdomain.Service, *fakeActivityStore, *fakeNotificationStore) {
	activityStore := newFakeActivityStore()
	notificationStore := newFakeNotificationStore()
	activityService := activitydomain.NewService(activityStore, nil, sequentialIDGenerator("evt"))
	notificationService := notifdomain.NewService(notificationStore, nil, sequentialIDGenerator("ntf"))
	return activityService, notificationService, activityStore, notificationStore
}

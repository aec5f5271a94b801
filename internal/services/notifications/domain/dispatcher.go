package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	activity "github.com/cldcde/pulse/internal/services/activity/domain"
)

// ErrDispatcherNotConfigured indicates the dispatcher is missing wiring.
var ErrDispatcherNotConfigured = errors.New("notification dispatcher is not configured")

// OwnerResolver resolves the owning user of a catalog target. Unknown
// ownership is reported with the activity domain's ErrNotFound.
type OwnerResolver interface {
	Owner(ctx context.Context, targetType activity.TargetType, targetID string) (string, error)
}

// CopyRenderer produces display copy for one notification topic and payload.
type CopyRenderer func(topic string, payloadJSON string) (title string, body string)

// Dispatcher derives recipient notifications from normalized activity events.
//
// Only events that concern a specific catalog target produce notifications,
// and only when the target's owner is known and is not the acting user.
// Events that resolve to no recipient are skipped without error; the
// broadcast path does not depend on notification delivery.
type Dispatcher struct {
	notifications *Service
	owners        OwnerResolver
	renderCopy    CopyRenderer
}

// NewDispatcher constructs a notification dispatcher.
func NewDispatcher(notifications *Service, owners OwnerResolver, renderCopy CopyRenderer) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		owners:        owners,
		renderCopy:    renderCopy,
	}
}

// Dispatch derives and stores at most one notification for one activity
// event. It reports whether a fresh notification was created; replayed
// events dedupe against the original by event id.
func (d *Dispatcher) Dispatch(ctx context.Context, event activity.Event) (Notification, bool, error) {
	if d == nil || d.notifications == nil || d.owners == nil {
		return Notification{}, false, ErrDispatcherNotConfigured
	}

	topic, ok := topicForEvent(event.Type)
	if !ok {
		return Notification{}, false, nil
	}
	if event.TargetID == "" {
		return Notification{}, false, nil
	}

	ownerUserID, err := d.owners.Owner(ctx, event.TargetType, event.TargetID)
	if err != nil {
		if errors.Is(err, activity.ErrNotFound) {
			// Ownership never learned for this target; nothing to deliver.
			return Notification{}, false, nil
		}
		return Notification{}, false, fmt.Errorf("resolve target owner: %w", err)
	}
	if ownerUserID == "" || ownerUserID == event.ActorID {
		return Notification{}, false, nil
	}

	payloadJSON, err := encodeEventPayload(event)
	if err != nil {
		return Notification{}, false, err
	}
	title, body := "", ""
	if d.renderCopy != nil {
		title, body = d.renderCopy(topic, payloadJSON)
	}

	notification, created, err := d.notifications.CreateIntent(ctx, CreateIntentInput{
		RecipientUserID: ownerUserID,
		Topic:           topic,
		Title:           title,
		Body:            body,
		PayloadJSON:     payloadJSON,
		DedupeKey:       "event:" + event.ID,
		SourceEventID:   event.ID,
	})
	if err != nil {
		return Notification{}, false, err
	}
	return notification, created, nil
}

func topicForEvent(eventType activity.EventType) (string, bool) {
	switch eventType {
	case activity.TypeReviewAdded:
		return TopicReviewReceived, true
	case activity.TypeRatingAdded:
		return TopicRatingReceived, true
	case activity.TypeMilestoneReached:
		return TopicMilestoneReached, true
	}
	return "", false
}

type eventPayload struct {
	ActorName  string            `json:"actor_name,omitempty"`
	TargetName string            `json:"target_name,omitempty"`
	TargetType string            `json:"target_type,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func encodeEventPayload(event activity.Event) (string, error) {
	raw, err := json.Marshal(eventPayload{
		ActorName:  event.ActorName,
		TargetName: event.TargetName,
		TargetType: string(event.TargetType),
		Metadata:   event.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("encode notification payload: %w", err)
	}
	return string(raw), nil
}

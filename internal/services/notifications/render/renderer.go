// Package render produces localized display copy for notification topics.
package render

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/message"
)

const (
	// TopicReviewReceived renders copy for a new review on an owned target.
	TopicReviewReceived = "activity.review_received"
	// TopicRatingReceived renders copy for a new rating on an owned target.
	TopicRatingReceived = "activity.rating_received"
	// TopicMilestoneReached renders copy for a download milestone crossing.
	TopicMilestoneReached = "activity.milestone_reached"

	defaultGenericTitle = "Notification"
	defaultGenericBody  = "You have a new notification."
	defaultTargetName   = "your listing"
)

// Input is one render request for a stored notification artifact.
type Input struct {
	Topic       string
	PayloadJSON string
}

// Output is localized copy derived from one notification artifact.
type Output struct {
	Title    string
	BodyText string
}

// Localizer is the minimal message-printer contract required by the renderer.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

type payload struct {
	ActorName  string            `json:"actor_name"`
	TargetName string            `json:"target_name"`
	Metadata   map[string]string `json:"metadata"`
}

// Render returns localized copy for one notification artifact.
func Render(loc Localizer, input Input) Output {
	decoded := payload{}
	if raw := strings.TrimSpace(input.PayloadJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return genericOutput(loc)
		}
	}
	targetName := strings.TrimSpace(decoded.TargetName)
	if targetName == "" {
		targetName = localizeWithFallback(loc, "notification.target.unnamed", defaultTargetName)
	}

	switch normalizeTopic(input.Topic) {
	case TopicReviewReceived:
		return Output{
			Title:    localizeWithFallback(loc, "notification.review_received.title", "New review"),
			BodyText: localize(loc, "notification.review_received.body", targetName, decoded.Metadata["review"]),
		}
	case TopicRatingReceived:
		return Output{
			Title:    localizeWithFallback(loc, "notification.rating_received.title", "New rating"),
			BodyText: localize(loc, "notification.rating_received.body", targetName, decoded.Metadata["rating"]),
		}
	case TopicMilestoneReached:
		return Output{
			Title:    localizeWithFallback(loc, "notification.milestone_reached.title", "Milestone reached"),
			BodyText: localize(loc, "notification.milestone_reached.body", targetName, decoded.Metadata["threshold"]),
		}
	default:
		return genericOutput(loc)
	}
}

func genericOutput(loc Localizer) Output {
	return Output{
		Title:    localizeWithFallback(loc, "notification.generic.title", defaultGenericTitle),
		BodyText: localizeWithFallback(loc, "notification.generic.body", defaultGenericBody),
	}
}

func localize(loc Localizer, key message.Reference, args ...any) string {
	if loc == nil {
		if asString, ok := key.(string); ok {
			return asString
		}
		return ""
	}
	return loc.Sprintf(key, args...)
}

func localizeWithFallback(loc Localizer, key string, fallback string) string {
	value := strings.TrimSpace(localize(loc, key))
	if value == "" || value == key {
		return fallback
	}
	return value
}

func normalizeTopic(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

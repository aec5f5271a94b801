package domain

import "strings"

const (
	// TopicReviewReceived notifies a catalog owner about a new review.
	TopicReviewReceived = "activity.review_received"
	// TopicRatingReceived notifies a catalog owner about a new rating.
	TopicRatingReceived = "activity.rating_received"
	// TopicMilestoneReached notifies a catalog owner about a download milestone.
	TopicMilestoneReached = "activity.milestone_reached"
)

// NormalizeTopic normalizes a producer-provided topic token.
func NormalizeTopic(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidTopic reports whether value is a known notification topic.
func ValidTopic(value string) bool {
	switch NormalizeTopic(value) {
	case TopicReviewReceived, TopicRatingReceived, TopicMilestoneReached:
		return true
	}
	return false
}

package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeExtensionInsert(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 12, 10, 0, 0, 0, time.UTC)
	events, err := Normalize(Mutation{
		Table:      TableExtensions,
		ActorID:    "user-1",
		ActorName:  "ada",
		TargetID:   "ext-1",
		TargetName: "claude-live",
	}, "evt-1", at)
	if err != nil {
		t.Fatalf("normalize extension insert: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	event := events[0]
	if event.Type != TypeExtensionAdded {
		t.Fatalf("expected %q, got %q", TypeExtensionAdded, event.Type)
	}
	if event.TargetType != TargetExtension {
		t.Fatalf("expected extension target type, got %q", event.TargetType)
	}
	if !event.Timestamp.Equal(at) {
		t.Fatalf("expected commit timestamp %s, got %s", at, event.Timestamp)
	}
}

func TestNormalizeMCPInsert(t *testing.T) {
	t.Parallel()

	events, err := Normalize(Mutation{
		Table:     TableMCPServers,
		ActorID:   "user-2",
		TargetID:  "mcp-1",
		ActorName: "grace",
	}, "evt-1", time.Now())
	if err != nil {
		t.Fatalf("normalize mcp insert: %v", err)
	}
	if events[0].Type != TypeMCPAdded || events[0].TargetType != TargetMCP {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestNormalizeRatingCapturesValue(t *testing.T) {
	t.Parallel()

	events, err := Normalize(Mutation{
		Table:    TableRatings,
		ActorID:  "user-1",
		TargetID: "ext-1",
		Rating:   4,
	}, "evt-1", time.Now())
	if err != nil {
		t.Fatalf("normalize rating: %v", err)
	}
	if got := events[0].Metadata["rating"]; got != "4" {
		t.Fatalf("expected rating metadata 4, got %q", got)
	}
}

func TestNormalizeRatingRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	for _, rating := range []int{0, 6, -1} {
		_, err := Normalize(Mutation{
			Table:    TableRatings,
			ActorID:  "user-1",
			TargetID: "ext-1",
			Rating:   rating,
		}, "evt-1", time.Now())
		if !errors.Is(err, ErrRatingOutOfRange) {
			t.Fatalf("rating %d: expected ErrRatingOutOfRange, got %v", rating, err)
		}
	}
}

func TestNormalizeReviewTruncatesExcerpt(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 500)
	events, err := Normalize(Mutation{
		Table:      TableReviews,
		ActorID:    "user-1",
		TargetID:   "ext-1",
		ReviewText: long,
	}, "evt-1", time.Now())
	if err != nil {
		t.Fatalf("normalize review: %v", err)
	}
	if got := len([]rune(events[0].Metadata["review"])); got != maxReviewExcerptRunes {
		t.Fatalf("expected %d-rune excerpt, got %d", maxReviewExcerptRunes, got)
	}
}

func TestNormalizeDownloadEmitsMilestones(t *testing.T) {
	t.Parallel()

	events, err := Normalize(Mutation{
		Table:           TableDownloads,
		TargetID:        "ext-1",
		TargetName:      "claude-live",
		TargetType:      TargetExtension,
		DownloadsBefore: 99,
		DownloadsAfter:  100,
	}, "evt-1", time.Now())
	if err != nil {
		t.Fatalf("normalize download: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected download + milestone events, got %d", len(events))
	}
	if events[0].Type != TypeDownload {
		t.Fatalf("expected download event first, got %q", events[0].Type)
	}
	milestone := events[1]
	if milestone.Type != TypeMilestoneReached {
		t.Fatalf("expected milestone event, got %q", milestone.Type)
	}
	if milestone.ID != "milestone:ext-1:100" {
		t.Fatalf("unexpected milestone id %q", milestone.ID)
	}
	if got := milestone.Metadata["milestone"]; got != "claude-live reached 100 downloads!" {
		t.Fatalf("unexpected milestone message %q", got)
	}
}

func TestNormalizeDownloadWithoutCrossingEmitsSingleEvent(t *testing.T) {
	t.Parallel()

	events, err := Normalize(Mutation{
		Table:           TableDownloads,
		TargetID:        "ext-1",
		DownloadsBefore: 100,
		DownloadsAfter:  101,
	}, "evt-1", time.Now())
	if err != nil {
		t.Fatalf("normalize download: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected single download event, got %d", len(events))
	}
}

func TestNormalizeUserJoinedClearsTargetFields(t *testing.T) {
	t.Parallel()

	events, err := Normalize(Mutation{
		Table:     TableUsers,
		ActorID:   "user-9",
		ActorName: "lin",
		TargetID:  "stray-target",
	}, "evt-1", time.Now())
	if err != nil {
		t.Fatalf("normalize user joined: %v", err)
	}
	event := events[0]
	if event.Type != TypeUserJoined {
		t.Fatalf("expected user_joined, got %q", event.Type)
	}
	if event.TargetID != "" || event.TargetType != "" {
		t.Fatalf("expected cleared target fields, got %+v", event)
	}
}

func TestNormalizeRejectsUnknownTable(t *testing.T) {
	t.Parallel()

	_, err := Normalize(Mutation{Table: "billing"}, "evt-1", time.Now())
	if !errors.Is(err, ErrUnknownSourceTable) {
		t.Fatalf("expected ErrUnknownSourceTable, got %v", err)
	}
}

func TestNormalizeRejectsUnknownTargetType(t *testing.T) {
	t.Parallel()

	_, err := Normalize(Mutation{
		Table:      TableDownloads,
		TargetID:   "ext-1",
		TargetType: "billing_account",
	}, "evt-1", time.Now())
	if !errors.Is(err, ErrUnknownTargetType) {
		t.Fatalf("expected ErrUnknownTargetType, got %v", err)
	}
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	t.Parallel()

	if _, err := Normalize(Mutation{Table: TableExtensions, ActorID: "user-1"}, "evt-1", time.Now()); !errors.Is(err, ErrTargetRequired) {
		t.Fatalf("expected ErrTargetRequired, got %v", err)
	}
	if _, err := Normalize(Mutation{Table: TableExtensions, TargetID: "ext-1"}, "evt-1", time.Now()); !errors.Is(err, ErrActorRequired) {
		t.Fatalf("expected ErrActorRequired, got %v", err)
	}
}

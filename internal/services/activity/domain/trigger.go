package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SourceTable identifies the catalog table whose commit produced a mutation.
type SourceTable string

const (
	// TableExtensions is the extensions catalog table.
	TableExtensions SourceTable = "extensions"
	// TableMCPServers is the MCP server catalog table.
	TableMCPServers SourceTable = "mcp_servers"
	// TableRatings is the ratings table.
	TableRatings SourceTable = "ratings"
	// TableReviews is the reviews table.
	TableReviews SourceTable = "reviews"
	// TableDownloads is the download counter table.
	TableDownloads SourceTable = "downloads"
	// TableUsers is the user registration table.
	TableUsers SourceTable = "users"
)

const maxReviewExcerptRunes = 140

var (
	// ErrUnknownSourceTable indicates a mutation from a table with no event mapping.
	ErrUnknownSourceTable = errors.New("unknown source table")
	// ErrTargetRequired indicates a mutation missing its target identity.
	ErrTargetRequired = errors.New("mutation target id is required")
	// ErrActorRequired indicates a mutation missing its acting user.
	ErrActorRequired = errors.New("mutation actor id is required")
	// ErrRatingOutOfRange indicates a rating value outside 1..5.
	ErrRatingOutOfRange = errors.New("rating must be between 1 and 5")
	// ErrUnknownTargetType indicates a mutation naming an unmapped target type.
	ErrUnknownTargetType = errors.New("unknown target type")
)

// Mutation is one raw commit record observed on a source-of-truth table.
//
// It carries the post-commit row values plus, for download counter updates,
// the pre- and post-mutation counter so threshold crossings are a pure
// function of the record itself.
type Mutation struct {
	Table           SourceTable
	ActorID         string
	ActorName       string
	TargetID        string
	TargetName      string
	TargetType      TargetType
	Rating          int
	ReviewText      string
	DownloadsBefore int64
	DownloadsAfter  int64
}

// Normalize converts one mutation into its activity events: exactly one event
// per the fixed table→type mapping, plus one milestone event per download
// threshold the mutation crossed.
//
// The returned error never reflects a failure of the source mutation itself;
// callers isolate it (log and continue) rather than propagate it back into
// the committing transaction.
func Normalize(mutation Mutation, eventID string, at time.Time) ([]Event, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, fmt.Errorf("event id is required")
	}

	base := Event{
		ID:         eventID,
		Timestamp:  at.UTC(),
		ActorID:    strings.TrimSpace(mutation.ActorID),
		ActorName:  strings.TrimSpace(mutation.ActorName),
		TargetID:   strings.TrimSpace(mutation.TargetID),
		TargetName: strings.TrimSpace(mutation.TargetName),
		TargetType: mutation.TargetType,
	}
	// Extension and MCP mutations imply their target type; the remaining
	// tables carry it in the payload, where anything unknown is rejected.
	// An absent target type stays allowed: ownership lookups simply miss.
	if base.TargetType != "" && !ValidTargetType(base.TargetType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTargetType, base.TargetType)
	}

	switch mutation.Table {
	case TableExtensions:
		base.Type = TypeExtensionAdded
		base.TargetType = TargetExtension
		if base.TargetID == "" {
			return nil, ErrTargetRequired
		}
		if base.ActorID == "" {
			return nil, ErrActorRequired
		}
		return []Event{base}, nil

	case TableMCPServers:
		base.Type = TypeMCPAdded
		base.TargetType = TargetMCP
		if base.TargetID == "" {
			return nil, ErrTargetRequired
		}
		if base.ActorID == "" {
			return nil, ErrActorRequired
		}
		return []Event{base}, nil

	case TableRatings:
		base.Type = TypeRatingAdded
		if base.TargetID == "" {
			return nil, ErrTargetRequired
		}
		if base.ActorID == "" {
			return nil, ErrActorRequired
		}
		if mutation.Rating < 1 || mutation.Rating > 5 {
			return nil, ErrRatingOutOfRange
		}
		base.Metadata = map[string]string{
			"rating": strconv.Itoa(mutation.Rating),
		}
		return []Event{base}, nil

	case TableReviews:
		base.Type = TypeReviewAdded
		if base.TargetID == "" {
			return nil, ErrTargetRequired
		}
		if base.ActorID == "" {
			return nil, ErrActorRequired
		}
		base.Metadata = map[string]string{
			"review": truncateRunes(strings.TrimSpace(mutation.ReviewText), maxReviewExcerptRunes),
		}
		return []Event{base}, nil

	case TableDownloads:
		base.Type = TypeDownload
		if base.TargetID == "" {
			return nil, ErrTargetRequired
		}
		delta := mutation.DownloadsAfter - mutation.DownloadsBefore
		base.Metadata = map[string]string{
			"count": strconv.FormatInt(mutation.DownloadsAfter, 10),
			"delta": strconv.FormatInt(delta, 10),
		}
		events := []Event{base}
		for _, threshold := range MilestonesCrossed(mutation.DownloadsBefore, mutation.DownloadsAfter) {
			events = append(events, Event{
				ID:         MilestoneEventID(base.TargetID, threshold),
				Type:       TypeMilestoneReached,
				Timestamp:  base.Timestamp,
				TargetID:   base.TargetID,
				TargetName: base.TargetName,
				TargetType: base.TargetType,
				Metadata: map[string]string{
					"milestone": MilestoneMessage(base.TargetName, threshold),
					"threshold": strconv.FormatInt(threshold, 10),
				},
			})
		}
		return events, nil

	case TableUsers:
		base.Type = TypeUserJoined
		if base.ActorID == "" {
			return nil, ErrActorRequired
		}
		base.TargetID = ""
		base.TargetName = ""
		base.TargetType = ""
		return []Event{base}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownSourceTable, mutation.Table)
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

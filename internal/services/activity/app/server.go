// Package app hosts the pulse HTTP/WebSocket process: mutation ingest,
// activity backfill, notification inbox routes, and the realtime fan-out
// surface.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cldcde/pulse/internal/platform/timeouts"
	activitydomain "github.com/cldcde/pulse/internal/services/activity/domain"
	activitysqlite "github.com/cldcde/pulse/internal/services/activity/storage/sqlite"
	notifapp "github.com/cldcde/pulse/internal/services/notifications/app"
	notifdomain "github.com/cldcde/pulse/internal/services/notifications/domain"
	"github.com/cldcde/pulse/internal/services/notifications/render"
	notifsqlite "github.com/cldcde/pulse/internal/services/notifications/storage/sqlite"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxSubscriptionsPerConn = 100

	defaultSweepInterval    = time.Hour
	defaultEvictionInterval = 15 * time.Second
)

// Config defines the inputs for the pulse realtime boundary.
type Config struct {
	HTTPAddr            string
	ActivityDBPath      string
	NotificationsDBPath string
	Retention           time.Duration
	SweepInterval       time.Duration
	PresenceTimeout     time.Duration
	EvictionInterval    time.Duration
	ReadHeaderTimeout   time.Duration
	ShutdownTimeout     time.Duration
}

// Server hosts the pulse HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server

	activityStore     *activitysqlite.Store
	notificationStore *notifsqlite.Store

	backgroundStop context.CancelFunc
	backgroundDone chan struct{}
}

// handler bundles the wired services behind the HTTP routes.
type handler struct {
	activity      *activitydomain.Service
	notifications *notifdomain.Service
	dispatcher    *notifdomain.Dispatcher
	hub           *channelHub
	presence      *PresenceTracker
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// wireEvent is the canonical event payload shared by broadcast frames and
// the backfill endpoint.
type wireEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Timestamp  string            `json:"timestamp"`
	UserID     string            `json:"userId,omitempty"`
	Username   string            `json:"username,omitempty"`
	TargetID   string            `json:"targetId,omitempty"`
	TargetName string            `json:"targetName,omitempty"`
	TargetType string            `json:"targetType,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type eventEnvelope struct {
	Channel string    `json:"channel"`
	Event   wireEvent `json:"event"`
}

type wireNotification struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

type notificationEnvelope struct {
	Channel      string           `json:"channel"`
	Notification wireNotification `json:"notification"`
}

type presenceStatePayload struct {
	Channel string           `json:"channel"`
	Members []presenceMember `json:"members"`
}

type presenceMember struct {
	UserID   string `json:"userId"`
	JoinedAt string `json:"joinedAt"`
}

type subscribePayload struct {
	Channel string `json:"channel"`
}

type presencePayload struct {
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
}

type heartbeatPayload struct {
	UserID   string   `json:"user_id"`
	Channels []string `json:"channels"`
}

type ackPayload struct {
	Status  string `json:"status"`
	Channel string `json:"channel,omitempty"`
}

type mutationRequest struct {
	Table           string `json:"table"`
	ActorID         string `json:"actor_id"`
	ActorName       string `json:"actor_name"`
	TargetID        string `json:"target_id"`
	TargetName      string `json:"target_name"`
	TargetType      string `json:"target_type"`
	Rating          int    `json:"rating"`
	ReviewText      string `json:"review_text"`
	DownloadsBefore int64  `json:"downloads_before"`
	DownloadsAfter  int64  `json:"downloads_after"`
}

type mutationResponse struct {
	Appended int `json:"appended"`
}

func toWireEvent(event activitydomain.Event) wireEvent {
	return wireEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
		UserID:     event.ActorID,
		Username:   event.ActorName,
		TargetID:   event.TargetID,
		TargetName: event.TargetName,
		TargetType: string(event.TargetType),
		Metadata:   event.Metadata,
	}
}

func toWireNotification(notification notifdomain.Notification) wireNotification {
	return wireNotification{
		ID:        notification.ID,
		Topic:     notification.Topic,
		Title:     notification.Title,
		Body:      notification.Body,
		Read:      notification.Read(),
		CreatedAt: notification.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NewHandler creates pulse routes over in-memory wiring for tests.
func NewHandler(activity *activitydomain.Service, notifications *notifdomain.Service) http.Handler {
	h := newHandlerDeps(activity, notifications)
	return h.routes()
}

func newHandlerDeps(activity *activitydomain.Service, notifications *notifdomain.Service) *handler {
	renderCopy := func(topic string, payloadJSON string) (string, string) {
		out := render.Render(message.NewPrinter(language.English), render.Input{
			Topic:       topic,
			PayloadJSON: payloadJSON,
		})
		return out.Title, out.BodyText
	}
	return &handler{
		activity:      activity,
		notifications: notifications,
		dispatcher:    notifdomain.NewDispatcher(notifications, activity, renderCopy),
		hub:           newChannelHub(nil),
		presence:      NewPresenceTracker(0, nil),
	}
}

func (h *handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/v1/mutations", h.handleMutations)
	mux.HandleFunc("/v1/activity", h.handleActivity)
	mux.HandleFunc("/v1/notifications", h.handleNotifications)
	mux.HandleFunc("/v1/notifications/", h.handleNotificationRead)
	mux.Handle("/ws", newWSHandler(h))
	return mux
}

// handleMutations ingests one post-commit source mutation. Normalization
// failures are logged and reported as zero appended events; they never turn
// into an error status that a committing caller would treat as its own
// failure.
func (h *handler) handleMutations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req mutationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxFramePayloadBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid mutation payload", http.StatusBadRequest)
		return
	}

	events, err := h.activity.Record(r.Context(), activitydomain.Mutation{
		Table:           activitydomain.SourceTable(strings.TrimSpace(req.Table)),
		ActorID:         req.ActorID,
		ActorName:       req.ActorName,
		TargetID:        req.TargetID,
		TargetName:      req.TargetName,
		TargetType:      activitydomain.TargetType(strings.TrimSpace(req.TargetType)),
		Rating:          req.Rating,
		ReviewText:      req.ReviewText,
		DownloadsBefore: req.DownloadsBefore,
		DownloadsAfter:  req.DownloadsAfter,
	})
	if err != nil {
		if isMutationValidationError(err) {
			log.Printf("mutation from table %q produced no events: %v", req.Table, err)
			writeJSON(w, http.StatusAccepted, mutationResponse{Appended: 0})
			return
		}
		log.Printf("record mutation: %v", err)
		http.Error(w, "failed to record mutation", http.StatusInternalServerError)
		return
	}

	go h.fanOut(events)
	writeJSON(w, http.StatusAccepted, mutationResponse{Appended: len(events)})
}

func isMutationValidationError(err error) bool {
	return errors.Is(err, activitydomain.ErrUnknownSourceTable) ||
		errors.Is(err, activitydomain.ErrTargetRequired) ||
		errors.Is(err, activitydomain.ErrActorRequired) ||
		errors.Is(err, activitydomain.ErrRatingOutOfRange) ||
		errors.Is(err, activitydomain.ErrUnknownTargetType)
}

// fanOut pushes freshly appended events to subscribers and derives recipient
// notifications. It runs detached from the ingest request so broadcast and
// notification hiccups never surface to the mutation caller.
func (h *handler) fanOut(events []activitydomain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, event := range events {
		h.broadcastEvent(activitydomain.ChannelActivityGlobal, event)

		notification, created, err := h.dispatcher.Dispatch(ctx, event)
		if err != nil {
			log.Printf("dispatch notification for event %s: %v", event.ID, err)
			continue
		}
		if !created {
			continue
		}
		channel := activitydomain.NotificationsChannel(notification.RecipientUserID)
		frame, err := json.Marshal(wsFrame{
			Type: "notification",
			Payload: mustJSON(notificationEnvelope{
				Channel:      channel,
				Notification: toWireNotification(notification),
			}),
		})
		if err != nil {
			log.Printf("encode notification frame: %v", err)
			continue
		}
		h.hub.broadcast(channel, frame)
	}
}

func (h *handler) broadcastEvent(channel string, event activitydomain.Event) {
	frame, err := json.Marshal(wsFrame{
		Type: "event",
		Payload: mustJSON(eventEnvelope{
			Channel: channel,
			Event:   toWireEvent(event),
		}),
	})
	if err != nil {
		log.Printf("encode event frame: %v", err)
		return
	}
	h.hub.broadcast(channel, frame)
}

// handleActivity serves ordered activity backfill for reconnecting clients.
func (h *handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	since := time.Time{}
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC 3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	var typeFilter activitydomain.EventType
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		typeFilter = activitydomain.EventType(raw)
		if !activitydomain.ValidType(typeFilter) {
			http.Error(w, "type must be a known event type", http.StatusBadRequest)
			return
		}
	}

	events, err := h.activity.Backfill(r.Context(), since, limit)
	if err != nil {
		log.Printf("backfill activity: %v", err)
		http.Error(w, "failed to list activity", http.StatusInternalServerError)
		return
	}

	wireEvents := make([]wireEvent, 0, len(events))
	for _, event := range events {
		if typeFilter != "" && event.Type != typeFilter {
			continue
		}
		wireEvents = append(wireEvents, toWireEvent(event))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": wireEvents})
}

// handleNotifications serves one recipient's inbox newest first.
func (h *handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recipient := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if recipient == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	pageSize := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "page_size must be an integer", http.StatusBadRequest)
			return
		}
		pageSize = parsed
	}

	page, err := h.notifications.ListInbox(r.Context(), notifdomain.ListInboxInput{
		RecipientUserID: recipient,
		PageSize:        pageSize,
		PageToken:       strings.TrimSpace(r.URL.Query().Get("page_token")),
	})
	if err != nil {
		log.Printf("list notifications for %s: %v", recipient, err)
		http.Error(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}
	unread, err := h.notifications.UnreadCount(r.Context(), recipient)
	if err != nil {
		log.Printf("count unread notifications for %s: %v", recipient, err)
		http.Error(w, "failed to count notifications", http.StatusInternalServerError)
		return
	}

	items := make([]wireNotification, 0, len(page.Notifications))
	for _, notification := range page.Notifications {
		items = append(items, toWireNotification(notification))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications":   items,
		"unread_count":    unread,
		"next_page_token": page.NextPageToken,
	})
}

// handleNotificationRead acknowledges one inbox item: POST /v1/notifications/{id}/read.
func (h *handler) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/notifications/")
	notificationID, action, ok := strings.Cut(rest, "/")
	if !ok || action != "read" || strings.TrimSpace(notificationID) == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	recipient := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if recipient == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	notification, err := h.notifications.MarkRead(r.Context(), notifdomain.MarkReadInput{
		RecipientUserID: recipient,
		NotificationID:  notificationID,
	})
	if err != nil {
		if errors.Is(err, notifdomain.ErrNotFound) {
			http.Error(w, "notification not found", http.StatusNotFound)
			return
		}
		log.Printf("mark notification %s read: %v", notificationID, err)
		http.Error(w, "failed to mark notification read", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toWireNotification(notification))
}

func (h *handler) presenceStateFrame(channelKey string) ([]byte, error) {
	members := h.presence.Members(channelKey)
	wireMembers := make([]presenceMember, 0, len(members))
	for _, member := range members {
		wireMembers = append(wireMembers, presenceMember{
			UserID:   member.UserID,
			JoinedAt: member.JoinedAt.UTC().Format(time.RFC3339),
		})
	}
	return json.Marshal(wsFrame{
		Type: "presence.state",
		Payload: mustJSON(presenceStatePayload{
			Channel: channelKey,
			Members: wireMembers,
		}),
	})
}

// broadcastPresenceState pushes the fresh member set of one presence channel
// to its subscribers.
func (h *handler) broadcastPresenceState(channelKey string) {
	frame, err := h.presenceStateFrame(channelKey)
	if err != nil {
		log.Printf("encode presence frame: %v", err)
		return
	}
	h.hub.broadcast(channelKey, frame)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response body: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

// NewServer builds a configured pulse server with SQLite persistence.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaultSweepInterval
	}
	if config.EvictionInterval <= 0 {
		config.EvictionInterval = defaultEvictionInterval
	}

	activityStore, err := activitysqlite.Open(config.ActivityDBPath)
	if err != nil {
		return nil, fmt.Errorf("open activity storage: %w", err)
	}
	notificationStore, err := notifsqlite.Open(config.NotificationsDBPath)
	if err != nil {
		_ = activityStore.Close()
		return nil, fmt.Errorf("open notifications storage: %w", err)
	}

	activityService := activitydomain.NewService(newDomainStoreAdapter(activityStore), nil, nil)
	if config.Retention > 0 {
		activityService.SetRetention(config.Retention)
	}
	notificationService := notifdomain.NewService(notifapp.NewDomainStoreAdapter(notificationStore), nil, nil)

	h := newHandlerDeps(activityService, notificationService)
	if config.PresenceTimeout > 0 {
		h.presence = NewPresenceTracker(config.PresenceTimeout, nil)
	}

	backgroundCtx, backgroundStop := context.WithCancel(context.Background())
	server := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           h.routes(),
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		activityStore:     activityStore,
		notificationStore: notificationStore,
		backgroundStop:    backgroundStop,
		backgroundDone:    make(chan struct{}),
	}
	go server.runBackground(backgroundCtx, h, config.SweepInterval, config.EvictionInterval)
	return server, nil
}

// runBackground owns the retention sweep and presence eviction tickers.
func (s *Server) runBackground(ctx context.Context, h *handler, sweepInterval, evictionInterval time.Duration) {
	defer close(s.backgroundDone)

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	evict := time.NewTicker(evictionInterval)
	defer evict.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			deleted, err := h.activity.Sweep(sweepCtx)
			cancel()
			if err != nil {
				log.Printf("retention sweep: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("retention sweep removed %d events", deleted)
			}
		case <-evict.C:
			evicted := h.presence.EvictExpired()
			if len(evicted) == 0 {
				continue
			}
			touched := make(map[string]struct{}, len(evicted))
			for _, eviction := range evicted {
				touched[eviction.ChannelKey] = struct{}{}
			}
			for channelKey := range touched {
				h.broadcastPresenceState(channelKey)
			}
		}
	}
}

// Run creates and serves a pulse server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init pulse server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve pulse: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("pulse server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("pulse server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.backgroundStop != nil {
		s.backgroundStop()
	}
	if s.backgroundDone != nil {
		<-s.backgroundDone
	}
	if s.activityStore != nil {
		if err := s.activityStore.Close(); err != nil {
			log.Printf("close activity storage: %v", err)
		}
	}
	if s.notificationStore != nil {
		if err := s.notificationStore.Close(); err != nil {
			log.Printf("close notifications storage: %v", err)
		}
	}
}

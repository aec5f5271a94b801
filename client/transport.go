package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/cldcde/pulse/internal/platform/timeouts"
)

// WebsocketDialer dials the server's realtime endpoint.
type WebsocketDialer struct {
	// URL is the websocket endpoint, e.g. ws://host:port/ws.
	URL string
	// Origin is the handshake origin. Defaults to the endpoint host.
	Origin string
}

// Dial opens a websocket connection and wraps it as a framed Conn.
func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	origin := d.Origin
	if origin == "" {
		parsed, err := url.Parse(d.URL)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint url: %w", err)
		}
		origin = "http://" + parsed.Host
	}

	config, err := websocket.NewConfig(d.URL, origin)
	if err != nil {
		return nil, fmt.Errorf("configure websocket: %w", err)
	}

	result := make(chan dialResult, 1)
	go func() {
		conn, err := websocket.DialConfig(config)
		result <- dialResult{conn: conn, err: err}
	}()

	timer := time.NewTimer(timeouts.Dial)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		go discardDial(result)
		return nil, ctx.Err()
	case <-timer.C:
		go discardDial(result)
		return nil, fmt.Errorf("dial %s: timed out", d.URL)
	case r := <-result:
		if r.err != nil {
			return nil, fmt.Errorf("dial %s: %w", d.URL, r.err)
		}
		return &websocketConn{conn: r.conn}, nil
	}
}

type dialResult struct {
	conn *websocket.Conn
	err  error
}

func discardDial(result <-chan dialResult) {
	if r := <-result; r.conn != nil {
		_ = r.conn.Close()
	}
}

// websocketConn serializes frame writes: the manager's heartbeat goroutine
// and its subscription calls share one underlying connection, and websocket
// frames from concurrent writers must never interleave.
type websocketConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *websocketConn) WriteFrame(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, frame)
}

func (c *websocketConn) ReadFrame() (Frame, error) {
	var frame Frame
	if err := websocket.JSON.Receive(c.conn, &frame); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

func (c *websocketConn) Close() error {
	return c.conn.Close()
}

// NotificationsClient acknowledges notifications over the HTTP inbox API.
type NotificationsClient struct {
	// BaseURL is the server root, e.g. http://host:port.
	BaseURL string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// MarkRead acknowledges one notification for userID. The transition is
// one-way on the server, so repeated calls are safe.
func (c *NotificationsClient) MarkRead(ctx context.Context, userID string, notificationID string) error {
	endpoint := fmt.Sprintf("%s/v1/notifications/%s/read?user_id=%s",
		c.BaseURL, url.PathEscape(notificationID), url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build mark-read request: %w", err)
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mark notification read: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// HTTPBackfiller fetches missed activity events over the HTTP feed endpoint.
type HTTPBackfiller struct {
	// BaseURL is the server root, e.g. http://host:port.
	BaseURL string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// EventsSince returns events recorded at or after since, oldest first.
func (b *HTTPBackfiller) EventsSince(ctx context.Context, since time.Time, limit int) ([]Event, error) {
	query := url.Values{}
	query.Set("since", since.UTC().Format(time.RFC3339))
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/v1/activity?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build activity request: %w", err)
	}
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch activity: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch activity: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Events []Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode activity response: %w", err)
	}
	return body.Events, nil
}

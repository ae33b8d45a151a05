package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/planora/planora-sync/internal/entity"
)

// WSConfig configures the websocket transport.
type WSConfig struct {
	// BaseURL is the server root, e.g. "https://sync.example.com". The
	// change stream attaches at /stream, bulk reads at /rest/<table>.
	BaseURL string

	// AccessToken is sent as a bearer token on every request.
	AccessToken string

	// HTTPClient is used for bulk reads and pushes. nil means a client
	// with a 30-second timeout.
	HTTPClient *http.Client

	// Logger for transport activity. nil means stderr.
	Logger *log.Logger
}

// wsFrame is one message on the stream socket, in either direction.
type wsFrame struct {
	Action string          `json:"action,omitempty"` // subscribe | unsubscribe
	Topic  entity.Table    `json:"topic"`
	UserID string          `json:"user_id,omitempty"`
	Kind   ChangeKind      `json:"kind,omitempty"`
	Old    json.RawMessage `json:"old,omitempty"`
	New    json.RawMessage `json:"new,omitempty"`
}

// WSTransport implements Transport over one websocket for the change
// stream and plain HTTP for bulk reads and pushes.
//
// All subscribed tables share the socket; incoming frames are routed to the
// subscribing handler by topic. The read loop runs until Close or until the
// peer goes away.
type WSTransport struct {
	cfg    WSConfig
	http   *http.Client
	logger *log.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[entity.Table]func(ChangeEvent)
	closed   bool

	readCtx    context.Context
	readCancel context.CancelFunc
}

// DialWS connects the stream socket and starts the read loop.
func DialWS(ctx context.Context, cfg WSConfig) (*WSTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	streamURL, err := wsURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	opts := &websocket.DialOptions{HTTPClient: httpClient}
	if cfg.AccessToken != "" {
		opts.HTTPHeader = http.Header{
			"Authorization": []string{"Bearer " + cfg.AccessToken},
		}
	}

	conn, _, err := websocket.Dial(ctx, streamURL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to dial change stream: %w", err)
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	t := &WSTransport{
		cfg:        cfg,
		http:       httpClient,
		logger:     logger,
		conn:       conn,
		handlers:   make(map[entity.Table]func(ChangeEvent)),
		readCtx:    readCtx,
		readCancel: readCancel,
	}
	go t.readLoop()
	return t, nil
}

func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/stream"
	return u.String(), nil
}

// Subscribe implements Transport. The control frame tells the server which
// topic to start streaming; the handler is installed before the frame goes
// out so no event can slip past.
func (t *WSTransport) Subscribe(ctx context.Context, table entity.Table, userID string, handler func(ChangeEvent)) (Subscription, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport is closed")
	}
	t.handlers[table] = handler
	conn := t.conn
	t.mu.Unlock()

	frame, _ := json.Marshal(wsFrame{Action: "subscribe", Topic: table, UserID: userID})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.mu.Lock()
		delete(t.handlers, table)
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", table, err)
	}

	return &wsSubscription{transport: t, table: table}, nil
}

type wsSubscription struct {
	once      sync.Once
	transport *WSTransport
	table     entity.Table
}

func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.transport.unsubscribe(s.table)
	})
}

func (t *WSTransport) unsubscribe(table entity.Table) {
	t.mu.Lock()
	delete(t.handlers, table)
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if closed || conn == nil {
		return
	}
	frame, _ := json.Marshal(wsFrame{Action: "unsubscribe", Topic: table})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.logger.Printf("Warning: failed to send unsubscribe for %s: %v", table, err)
	}
}

func (t *WSTransport) readLoop() {
	for {
		_, data, err := t.conn.Read(t.readCtx)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.logger.Printf("Change stream closed: %v", err)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.logger.Printf("Warning: dropped malformed stream frame: %v", err)
			continue
		}

		t.mu.Lock()
		handler := t.handlers[frame.Topic]
		t.mu.Unlock()
		if handler == nil {
			continue
		}

		handler(ChangeEvent{
			Table: frame.Topic,
			Kind:  frame.Kind,
			Old:   frame.Old,
			New:   frame.New,
		})
	}
}

// Fetch implements Transport via GET /rest/<table>?user_id=...
// A context cancellation surfaces as ErrFetchCanceled.
func (t *WSTransport) Fetch(ctx context.Context, table entity.Table, userID string) ([]json.RawMessage, error) {
	u, err := url.Parse(t.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = "/rest/" + string(table)
	if userID != "" {
		q := u.Query()
		q.Set("user_id", userID)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}
	if t.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.AccessToken)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, ErrFetchCanceled
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch %s returned %d: %s", table, resp.StatusCode, body)
	}

	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s rows: %w", table, err)
	}
	return rows, nil
}

// Push implements Transport via POST /rest/<table>.
func (t *WSTransport) Push(ctx context.Context, table entity.Table, kind ChangeKind, payload json.RawMessage) error {
	body, err := json.Marshal(map[string]any{
		"kind":    kind,
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode push body: %w", err)
	}

	u, err := url.Parse(t.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = "/rest/" + string(table)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.AccessToken)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push %s change: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push %s returned %d: %s", table, resp.StatusCode, msg)
	}
	return nil
}

// Close implements Transport.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.readCancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

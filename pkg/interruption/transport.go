package interruption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// InferenceRequest is one windowed batch of PCM sent to a classifier.
type InferenceRequest struct {
	RequestID  string    `json:"request_id"`
	SampleRate int       `json:"sample_rate"`
	PCM        []float32 `json:"pcm"`
}

// InferenceResponse carries the classifier's incremental probabilities for
// a request. Transports may deliver several responses per RequestID as a
// streaming window grows; the detector appends each onto that request's
// cached probability history.
type InferenceResponse struct {
	RequestID     string    `json:"request_id"`
	Probabilities []float64 `json:"probabilities"`
}

// Transport sends windowed audio to an interruption classifier and returns
// its probabilities. HTTP and WebSocket variants are provided; tests supply
// a fake.
type Transport interface {
	Infer(ctx context.Context, req InferenceRequest) (InferenceResponse, error)
	Close() error
}

// httpTransport posts each window as an independent request, grounded on
// pkg/turn.RemoteDetector's client pattern.
type httpTransport struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPTransport builds a Transport that POSTs each inference window to
// baseURL as an independent request.
func NewHTTPTransport(baseURL, apiKey string, timeout time.Duration) Transport {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &httpTransport{
		endpoint: baseURL,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (t *httpTransport) Infer(ctx context.Context, req InferenceRequest) (InferenceResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return InferenceResponse{}, fmt.Errorf("marshal inference request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return InferenceResponse{}, fmt.Errorf("build inference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return InferenceResponse{}, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return InferenceResponse{}, fmt.Errorf("inference endpoint returned %d: %s", resp.StatusCode, string(b))
	}

	var out InferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return InferenceResponse{}, fmt.Errorf("decode inference response: %w", err)
	}
	return out, nil
}

func (t *httpTransport) Close() error { return nil }

// wsTransport keeps a single persistent connection open and multiplexes
// requests over it by RequestID, grounded on internal/worker.WebSocketClient's
// connect/read/write shape. Reconnects lazily the next time Infer is called
// after Close or a read failure.
type wsTransport struct {
	url        string
	apiKey     string
	maxRetries int

	mu   sync.Mutex
	conn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan InferenceResponse
}

// NewWSTransport builds a Transport backed by a single persistent WebSocket
// connection to baseURL, authenticated with apiKey as a query parameter.
func NewWSTransport(baseURL, apiKey string, maxRetries int) Transport {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &wsTransport{url: baseURL, apiKey: apiKey, maxRetries: maxRetries, pending: make(map[string]chan InferenceResponse)}
}

func (t *wsTransport) connect(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}

	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	if t.apiKey != "" {
		q := u.Query()
		q.Set("api_key", t.apiKey)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	var lastErr error
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		conn, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			t.conn = conn
			go t.readLoop(conn)
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dial interruption endpoint: %w", lastErr)
}

func (t *wsTransport) readLoop(conn *websocket.Conn) {
	for {
		var resp InferenceResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			return
		}
		t.pendingMu.Lock()
		ch := t.pending[resp.RequestID]
		delete(t.pending, resp.RequestID)
		t.pendingMu.Unlock()
		if ch != nil {
			ch <- resp
		}
	}
}

func (t *wsTransport) Infer(ctx context.Context, req InferenceRequest) (InferenceResponse, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return InferenceResponse{}, err
	}

	ch := make(chan InferenceResponse, 1)
	t.pendingMu.Lock()
	t.pending[req.RequestID] = ch
	t.pendingMu.Unlock()

	t.mu.Lock()
	writeErr := conn.WriteJSON(req)
	t.mu.Unlock()
	if writeErr != nil {
		t.pendingMu.Lock()
		delete(t.pending, req.RequestID)
		t.pendingMu.Unlock()
		return InferenceResponse{}, fmt.Errorf("write inference request: %w", writeErr)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.pendingMu.Lock()
		delete(t.pending, req.RequestID)
		t.pendingMu.Unlock()
		return InferenceResponse{}, ctx.Err()
	}
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

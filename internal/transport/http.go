package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/embedchat/internal/model/chat"
	"github.com/zhouzirui/embedchat/internal/model/embed"
)

// HTTPClient talks to the embed API over plain HTTP and Server-Sent Events.
type HTTPClient struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

// HTTPOption customises an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient swaps the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithTimeout bounds history and reset calls. Streams are bounded only by
// the caller's context.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClient) { h.timeout = d }
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) HTTPOption {
	return func(h *HTTPClient) { h.logger = logger }
}

// NewHTTPClient builds an HTTPClient.
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		httpClient: &http.Client{},
		timeout:    30 * time.Second,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*HTTPClient)(nil)

// FetchHistory loads the stored conversation for a session.
func (c *HTTPClient) FetchHistory(ctx context.Context, settings embed.Settings, sessionID string) ([]chat.Message, error) {
	const op = "fetch history"
	if err := requireBootable(settings); err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sessionURL(settings, sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	var payload HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &ServerError{Op: op, Status: resp.StatusCode, Message: "invalid response from server"}
	}

	history := make([]chat.Message, 0, len(payload.History))
	for _, entry := range payload.History {
		history = append(history, entry.Message())
	}
	return history, nil
}

// ResetSession asks the server to forget a session.
func (c *HTTPClient) ResetSession(ctx context.Context, settings embed.Settings, sessionID string) error {
	const op = "reset session"
	if err := requireBootable(settings); err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, sessionURL(settings, sessionID), nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return checkStatus(op, resp)
}

// SendMessage posts a user message and consumes the SSE reply stream.
func (c *HTTPClient) SendMessage(ctx context.Context, settings embed.Settings, sessionID, content string, handle StreamHandler) (chat.Message, error) {
	const op = "stream chat"
	if err := requireBootable(settings); err != nil {
		return chat.Message{}, err
	}

	body, err := json.Marshal(newStreamRequest(settings, sessionID, content))
	if err != nil {
		return chat.Message{}, fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(settings, "stream-chat"), bytes.NewReader(body))
	if err != nil {
		return chat.Message{}, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chat.Message{}, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return chat.Message{}, err
	}

	var reply replyAssembler
	err = readEvents(resp.Body, func(data []byte) (bool, error) {
		var res ChatResult
		if err := json.Unmarshal(data, &res); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("skipping malformed chat frame")
			return false, nil
		}
		if handle != nil {
			if err := handle(res); err != nil {
				return true, err
			}
		}
		if err := reply.add(op, res); err != nil {
			return true, err
		}
		return reply.done, nil
	})
	if err != nil {
		return chat.Message{}, err
	}
	if ctx.Err() != nil {
		return chat.Message{}, ctx.Err()
	}
	return reply.message(), nil
}

func (c *HTTPClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// readEvents feeds each SSE data payload to fn until fn reports done, the
// body ends, or an error occurs.
func readEvents(body io.Reader, fn func(data []byte) (bool, error)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data bytes.Buffer
	flush := func() (bool, error) {
		if data.Len() == 0 {
			return false, nil
		}
		payload := append([]byte(nil), data.Bytes()...)
		data.Reset()
		return fn(payload)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			done, err := flush()
			if err != nil || done {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(value, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return &NetworkError{Op: "stream chat", Err: err}
	}
	_, err := flush()
	return err
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(readErrorBody(resp.Body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ServerError{Op: op, Status: resp.StatusCode, Message: msg}
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return string(data)
}

func endpoint(settings embed.Settings, parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, url.PathEscape(settings.EmbedID))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.TrimRight(settings.BaseAPIURL, "/") + "/" + strings.Join(escaped, "/")
}

func sessionURL(settings embed.Settings, sessionID string) string {
	return endpoint(settings, sessionID)
}

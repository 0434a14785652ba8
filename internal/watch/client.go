package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/graphproc/internal/api"
	"github.com/mattjoyce/graphproc/internal/events"
	"github.com/mattjoyce/graphproc/internal/lane"
)

const pollTimeout = 2 * time.Second

// Client talks to the ops endpoint of one graphproc instance.
type Client struct {
	baseURL string
	token   string
	poll    *http.Client
	stream  *http.Client
}

// NewClient returns a Client for baseURL. token may be empty when the
// instance runs without one.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		poll:    &http.Client{Timeout: pollTimeout},
		stream:  &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// Health fetches /healthz.
func (c *Client) Health(ctx context.Context) (api.HealthzResponse, error) {
	var out api.HealthzResponse
	err := c.getJSON(ctx, "/healthz", &out)
	return out, err
}

// Lanes fetches /lanes.
func (c *Client) Lanes(ctx context.Context) ([]lane.Stats, error) {
	var out api.LanesResponse
	if err := c.getJSON(ctx, "/lanes", &out); err != nil {
		return nil, err
	}
	return out.Lanes, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, path)
	if err != nil {
		return err
	}
	resp, err := c.poll.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func statusError(path string, resp *http.Response) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, body.Error)
	}
	return fmt.Errorf("GET %s: %s", path, resp.Status)
}

// Stream follows /events, resuming after lastID, and sends every event to ch
// until the connection ends or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, lastID int64, ch chan<- events.Event) error {
	req, err := c.newRequest(ctx, "/events")
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("GET /events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("/events", resp)
	}

	return readSSE(resp.Body, func(ev events.Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// readSSE parses a server-sent event stream. emit returning false stops the
// read. Comment lines are skipped and multi-line data is joined with "\n".
func readSSE(r io.Reader, emit func(events.Event) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		cur  events.Event
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				cur.Data = json.RawMessage(strings.Join(data, "\n"))
				cur.At = time.Now()
				if !emit(cur) {
					return nil
				}
			}
			cur, data = events.Event{}, nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			if id, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.ID = id
			}
		case "event":
			cur.Type = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

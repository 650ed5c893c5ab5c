package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
)

// Client talks to a running driver's control server.
type Client struct {
	base string
	http *http.Client
}

func NewClient(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) post(ctx context.Context, path string, req, resp any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, resp)
}

func (c *Client) get(ctx context.Context, path string, resp any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, resp)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("control server: HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Input sends operator text; returns the (possibly fresh) dialog id.
func (c *Client) Input(ctx context.Context, req InputRequest) (string, error) {
	var resp struct {
		DialogID string `json:"dialog_id"`
	}
	if err := c.post(ctx, "/api/input", req, &resp); err != nil {
		return "", err
	}
	return resp.DialogID, nil
}

// Stop requests an interruption; reports whether a run was live.
func (c *Client) Stop(ctx context.Context, req StopRequest) (bool, error) {
	var resp struct {
		InterruptedInFlight bool `json:"interrupted_in_flight"`
	}
	if err := c.post(ctx, "/api/stop", req, &resp); err != nil {
		return false, err
	}
	return resp.InterruptedInFlight, nil
}

// Resume restarts an interrupted dialog.
func (c *Client) Resume(ctx context.Context, dialogID string) error {
	return c.post(ctx, "/api/resume", ResumeRequest{DialogID: dialogID}, nil)
}

// Answer resolves a question-for-human.
func (c *Client) Answer(ctx context.Context, req AnswerRequest) (string, error) {
	var resp struct {
		DialogID string `json:"dialog_id"`
	}
	if err := c.post(ctx, "/api/answer", req, &resp); err != nil {
		return "", err
	}
	return resp.DialogID, nil
}

// Status fetches one dialog's status.
func (c *Client) Status(ctx context.Context, dialogID string) (*DialogStatus, error) {
	var st DialogStatus
	if err := c.get(ctx, "/api/status?dialog_id="+url.QueryEscape(dialogID), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StatusAll fetches every dialog's status.
func (c *Client) StatusAll(ctx context.Context) ([]DialogStatus, error) {
	var out []DialogStatus
	if err := c.get(ctx, "/api/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch streams events for one root (or all, when rootID is empty) into fn
// until ctx ends or the server closes the stream.
func (c *Client) Watch(ctx context.Context, rootID string, fn func(bus.Event)) error {
	u := url.URL{Scheme: "ws", Host: c.base[len("http://"):], Path: "/events"}
	if rootID != "" {
		u.RawQuery = "root_id=" + url.QueryEscape(rootID)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var ev bus.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fn(ev)
	}
}

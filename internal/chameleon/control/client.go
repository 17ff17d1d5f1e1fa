package control

import (
	"context"
	"fmt"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ElLumy/chameleon/api/schemas"
)

// Client talks to a control server. Every failure to reach or hear back
// from the server is reported as ErrNotAvailable.
type Client struct {
	endpoint string
	timeout  time.Duration
	dialer   *websocket.Dialer
}

// NewClient creates a client for the server listening on addr (host:port).
func NewClient(addr string, timeout time.Duration) *Client {
	u := url.URL{Scheme: "ws", Host: addr, Path: ControlPath}
	return &Client{
		endpoint: u.String(),
		timeout:  timeout,
		dialer:   &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

// Do performs a single request on a fresh connection.
func (c *Client) Do(ctx context.Context, action schemas.Action) (schemas.Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return schemas.Response{}, fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	req := schemas.Request{ID: uuid.NewString(), Action: action}
	data, err := json.Marshal(req)
	if err != nil {
		return schemas.Response{}, fmt.Errorf("encode request: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return schemas.Response{}, fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return schemas.Response{}, fmt.Errorf("%w: %v", ErrNotAvailable, err)
		}
		var resp schemas.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			return schemas.Response{}, fmt.Errorf("%w: malformed response: %v", ErrNotAvailable, err)
		}
		if resp.ID != "" && resp.ID != req.ID {
			continue
		}
		if err := ResponseError(resp); err != nil {
			return resp, err
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return resp, nil
	}
}

// Profile fetches the current profile.
func (c *Client) Profile(ctx context.Context) (*schemas.Profile, error) {
	resp, err := c.Do(ctx, schemas.ActionGetProfile)
	if err != nil {
		return nil, err
	}
	if resp.Profile == nil {
		return nil, ErrNotAvailable
	}
	return resp.Profile, nil
}

// Regenerate asks the core for a new profile.
func (c *Client) Regenerate(ctx context.Context) error {
	resp, err := c.Do(ctx, schemas.ActionRegenerateProfile)
	if err != nil {
		return err
	}
	if resp.Success == nil || !*resp.Success {
		return ErrNotAvailable
	}
	return nil
}

// Status reports whether the core finished initializing.
func (c *Client) Status(ctx context.Context) (bool, error) {
	resp, err := c.Do(ctx, schemas.ActionGetStatus)
	if err != nil {
		return false, err
	}
	if resp.Initialized == nil {
		return false, ErrNotAvailable
	}
	return *resp.Initialized, nil
}

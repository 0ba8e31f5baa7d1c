package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// The chat service routes room lifecycle operations through custom HTTP verbs
// rather than paths.
const (
	verbCreate = "CREATE"
	verbAdd    = "ADD"
	verbKick   = "KICK"
	verbList   = "LIST"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the chat service (e.g. "http://localhost:8085").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout bounds each remote call. Defaults to 10 seconds. Remote calls
	// run while the caller's local transaction is open, so this also bounds
	// how long a request transaction can be held hostage by the chat service.
	Timeout time.Duration
}

// Client issues room lifecycle calls against the chat service.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chat: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
		logger:  logger,
	}, nil
}

// CreateRoom creates a room titled title owned by ownerReferenceID.
//
// A title conflict (615) is resolved in place: the rooms matching title and
// owner are listed, and the single match is returned as if freshly created.
// Zero or multiple matches surface ErrRoomNotFound, which callers may retry
// once title uniqueness settles remotely.
func (c *Client) CreateRoom(ctx context.Context, title string, cred Credentials, ownerReferenceID int64) (Room, error) {
	body := map[string]any{"title": title, "ownerReferenceId": ownerReferenceID}
	var room Room
	err := c.do(ctx, verbCreate, "/apiv1/rooms", cred, body, &room)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrRoomTitleConflict) {
		return Room{}, err
	}

	rooms, listErr := c.ListRooms(ctx, title, cred, ownerReferenceID)
	if listErr != nil {
		return Room{}, fmt.Errorf("chat: resolve title conflict for %q: %w", title, listErr)
	}
	if len(rooms) != 1 {
		return Room{}, fmt.Errorf("chat: title conflict for %q resolved to %d rooms: %w", title, len(rooms), ErrRoomNotFound)
	}
	return rooms[0], nil
}

// DeleteRoom removes a room. Used by the provisioning saga as the
// compensating action when the local commit recording the room id fails.
func (c *Client) DeleteRoom(ctx context.Context, roomID int64, cred Credentials) error {
	return c.do(ctx, http.MethodDelete, "/apiv1/rooms/"+strconv.FormatInt(roomID, 10), cred, nil, nil)
}

// AddMember adds memberReferenceID to a room and returns the updated room.
// ErrMemberAlreadyPresent is returned as-is; callers treat it as success.
func (c *Client) AddMember(ctx context.Context, roomID, memberReferenceID int64, cred Credentials) (Room, error) {
	body := map[string]any{"memberReferenceId": memberReferenceID}
	var room Room
	if err := c.do(ctx, verbAdd, "/apiv1/rooms/"+strconv.FormatInt(roomID, 10), cred, body, &room); err != nil {
		return Room{}, err
	}
	return room, nil
}

// KickMember removes memberReferenceID from a room.
// ErrMemberAbsent is returned as-is; callers treat it as success.
func (c *Client) KickMember(ctx context.Context, roomID, memberReferenceID int64, cred Credentials) error {
	body := map[string]any{"memberReferenceId": memberReferenceID}
	return c.do(ctx, verbKick, "/apiv1/rooms/"+strconv.FormatInt(roomID, 10), cred, body, nil)
}

// ListRooms lists rooms filtered by exact title and owner reference.
func (c *Client) ListRooms(ctx context.Context, title string, cred Credentials, ownerReferenceID int64) ([]Room, error) {
	params := url.Values{}
	params.Set("title", title)
	params.Set("ownerReferenceId", strconv.FormatInt(ownerReferenceID, 10))

	var rooms []Room
	if err := c.do(ctx, verbList, "/apiv1/rooms?"+params.Encode(), cred, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// do issues one remote call and maps the response to the closed outcome set.
func (c *Client) do(ctx context.Context, verb, path string, cred Credentials, body, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("chat: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, verb, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("chat: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+cred.SessionToken)
	req.Header.Set("X-Access-Token", cred.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat: %s %s: %v: %w", verb, path, err, ErrChatInternal)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("chat: read response body: %v: %w", err, ErrChatInternal)
	}

	if outcome := c.mapStatus(verb, path, resp.StatusCode, payload); outcome != nil {
		return outcome
	}

	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("chat: decode response: %v: %w", err, ErrChatInternal)
	}
	return nil
}

// mapStatus translates the remote status-code vocabulary into the sentinel
// error set. Returns nil for 2xx.
func (c *Client) mapStatus(verb, path string, status int, payload []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrRoomNotFound
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable:
		return ErrServiceUnavailable
	case status == statusMemberAlreadyPresent:
		return ErrMemberAlreadyPresent
	case status == statusMemberAbsent:
		return ErrMemberAbsent
	case status == statusRoomTitleConflict:
		return ErrRoomTitleConflict
	default:
		c.logger.Error("chat: unexpected response",
			"verb", verb,
			"path", path,
			"status", status,
			"payload", string(payload),
		)
		return fmt.Errorf("chat: unexpected status %d: %w", status, ErrChatInternal)
	}
}

// Package coordinator provides a client for the room coordinator's request endpoint.
package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/api/protocol"
	"github.com/osa030/19room/internal/domain/member"
	"github.com/osa030/19room/internal/domain/track"
)

// ErrRoomNotFound is returned when the coordinator reports an unsuccessful lookup.
var ErrRoomNotFound = errors.New("room not found")

// Client is a room coordinator REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Cache for room titles
	titleCache map[string]string
	cacheMu    sync.RWMutex
}

// Config represents coordinator client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// TitleResponse represents the response from GET /room/{code}/title.
type TitleResponse struct {
	Success  bool   `json:"success"`
	RoomName string `json:"roomName"`
	Message  string `json:"message"`
}

// MembersResponse represents the response from GET /room/{code}/members.
type MembersResponse struct {
	Success bool   `json:"success"`
	Members []any  `json:"members"`
	Message string `json:"message"`
}

// PlaylistResponse represents the response from GET /room/{code}/playlist.
type PlaylistResponse struct {
	Success  bool   `json:"success"`
	Playlist []any  `json:"playlist"`
	Message  string `json:"message"`
}

// New creates a new coordinator client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("coordinator base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(err, "invalid coordinator base URL")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		titleCache: make(map[string]string),
	}, nil
}

// Title retrieves the display name of a room.
func (c *Client) Title(ctx context.Context, code string) (string, error) {
	c.cacheMu.RLock()
	if title, ok := c.titleCache[code]; ok {
		c.cacheMu.RUnlock()
		zlog.Debug().Msgf("using cached title for room: %s", code)
		return title, nil
	}
	c.cacheMu.RUnlock()

	var resp TitleResponse
	if err := c.get(ctx, code, "title", &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", notFound(code, resp.Message)
	}

	c.cacheMu.Lock()
	c.titleCache[code] = resp.RoomName
	c.cacheMu.Unlock()
	return resp.RoomName, nil
}

// Members retrieves the ordered member list of a room.
func (c *Client) Members(ctx context.Context, code string) ([]member.Member, error) {
	var resp MembersResponse
	if err := c.get(ctx, code, "members", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, notFound(code, resp.Message)
	}
	members, err := protocol.DecodeMembers(resp.Members)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode members")
	}
	return members, nil
}

// Playlist retrieves the playlist of a room.
func (c *Client) Playlist(ctx context.Context, code string) ([]track.Track, error) {
	var resp PlaylistResponse
	if err := c.get(ctx, code, "playlist", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, notFound(code, resp.Message)
	}
	tracks, err := protocol.DecodeTracks(resp.Playlist)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode playlist")
	}
	return tracks, nil
}

func (c *Client) get(ctx context.Context, code, resource string, out any) error {
	if code == "" {
		return errors.New("room code is required")
	}
	reqURL := c.baseURL + "/room/" + url.PathEscape(code) + "/" + resource

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return notFound(code, "")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("coordinator error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

func notFound(code, message string) error {
	err := errors.Wrapf(ErrRoomNotFound, "room %s", code)
	if message != "" {
		err = errors.WithDetail(err, message)
	}
	return err
}

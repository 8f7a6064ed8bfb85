package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dlx/internal/shared"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

// ErrNotFound is returned when the catalog has no entity for a reference.
var ErrNotFound = errors.New("catalog entity not found")

// Namer produces a display name for a catalog reference.
type Namer interface {
	DisplayName(ctx context.Context, ref Ref) (string, error)
}

// NameCache stores display names between lookups.
type NameCache interface {
	Name(ctx context.Context, ref string) (string, error)
	SaveName(ctx context.Context, ref, kind, name string) error
}

type spotifyArtist struct {
	Name string `json:"name"`
}

type spotifyTrack struct {
	Name    string          `json:"name"`
	Artists []spotifyArtist `json:"artists"`
}

type spotifyAlbum struct {
	Name    string          `json:"name"`
	Artists []spotifyArtist `json:"artists"`
}

type spotifyPlaylist struct {
	Name string `json:"name"`
}

// Client looks up catalog entities through the Spotify Web API using the
// client credentials grant. It needs no user authorization.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      NameCache
	logger     *log.Logger
}

// ClientOption configures a [Client].
type ClientOption func(*clientOptions)

type clientOptions struct {
	baseURL  string
	tokenURL string
	cache    NameCache
	timeout  time.Duration
}

// WithEndpoints points the client at alternative API and token URLs.
func WithEndpoints(baseURL, tokenURL string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = baseURL
		o.tokenURL = tokenURL
	}
}

// WithNameCache caches resolved display names.
func WithNameCache(cache NameCache) ClientOption {
	return func(o *clientOptions) { o.cache = cache }
}

// NewClient creates a catalog client from Spotify application credentials.
func NewClient(creds shared.SpotifyConfig, logger *log.Logger, opts ...ClientOption) (*Client, error) {
	if creds.ClientID == "" {
		return nil, fmt.Errorf("%w: missing spotify client_id", shared.ErrMissingCredentials)
	}
	if creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: missing spotify client_secret", shared.ErrMissingCredentials)
	}

	o := clientOptions{baseURL: spotifyBaseURL, tokenURL: spotifyTokenURL, timeout: 15 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	cfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     o.tokenURL,
	}
	httpClient := cfg.Client(context.Background())
	httpClient.Timeout = o.timeout

	return &Client{
		baseURL:    strings.TrimRight(o.baseURL, "/"),
		httpClient: httpClient,
		cache:      o.cache,
		logger:     shared.WithLogger(logger, "component", "catalog"),
	}, nil
}

// DisplayName returns "Artist - Title" for tracks, "Artist - Album" for
// albums, and the entity name for playlists and artists.
func (c *Client) DisplayName(ctx context.Context, ref Ref) (string, error) {
	key := ref.URI()
	if c.cache != nil {
		if name, err := c.cache.Name(ctx, key); err == nil && name != "" {
			return name, nil
		}
	}

	name, err := c.lookup(ctx, ref)
	if err != nil {
		return "", err
	}

	if c.cache != nil {
		if err := c.cache.SaveName(ctx, key, string(ref.Kind), name); err != nil {
			c.logger.Warn("failed to cache display name", "ref", key, "error", err)
		}
	}
	return name, nil
}

func (c *Client) lookup(ctx context.Context, ref Ref) (string, error) {
	switch ref.Kind {
	case KindTrack:
		var track spotifyTrack
		if err := c.get(ctx, "/tracks/"+ref.ID, &track); err != nil {
			return "", err
		}
		return joinName(track.Artists, track.Name), nil
	case KindAlbum:
		var album spotifyAlbum
		if err := c.get(ctx, "/albums/"+ref.ID, &album); err != nil {
			return "", err
		}
		return joinName(album.Artists, album.Name), nil
	case KindPlaylist:
		var playlist spotifyPlaylist
		if err := c.get(ctx, "/playlists/"+ref.ID+"?fields=name", &playlist); err != nil {
			return "", err
		}
		return playlist.Name, nil
	case KindArtist:
		var artist spotifyArtist
		if err := c.get(ctx, "/artists/"+ref.ID, &artist); err != nil {
			return "", err
		}
		return artist.Name, nil
	default:
		return "", fmt.Errorf("%w: unsupported catalog kind %q", shared.ErrInvalidArgument, ref.Kind)
	}
}

// get performs an authenticated GET against the Web API.
func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: spotify status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func joinName(artists []spotifyArtist, title string) string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	if len(names) == 0 {
		return title
	}
	return strings.Join(names, ", ") + " - " + title
}

// Package links materializes a single track synchronously and hands back a
// time-limited download link to it, without creating a task.
package links

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dlx/internal/artifacts"
	"github.com/desertthunder/dlx/internal/catalog"
	"github.com/desertthunder/dlx/internal/engine"
	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/shared"
	"github.com/desertthunder/dlx/internal/tasks"
)

// DownloadPath is the route prefix links are served under.
const DownloadPath = "/temp-download/"

// Note is returned with every instant link.
const Note = "This download link is temporary and will be available for a short time."

// Instant is the response of an instant audio link request.
type Instant struct {
	SpotifyURL       string    `json:"spotify_url"`
	AudioDownloadURL string    `json:"audio_download_url"`
	Filename         string    `json:"filename"`
	Format           string    `json:"format"`
	Quality          string    `json:"quality"`
	FileSize         int64     `json:"file_size"`
	ExpiresAt        time.Time `json:"expires_at"`
	Note             string    `json:"note"`
}

// Config holds the link exposure settings.
type Config struct {
	TTL           time.Duration // How long a link stays valid (default: 1h)
	Timeout       time.Duration // Bound on the engine download; zero disables it
	DefaultFormat string
}

// Service produces instant links.
type Service struct {
	engine  engine.Engine
	store   *artifacts.Store
	namer   catalog.Namer
	logger  *log.Logger
	cfg     Config
}

// NewService creates a link service. namer may be nil.
func NewService(eng engine.Engine, store *artifacts.Store, namer catalog.Namer, cfg Config, logger *log.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = engine.DefaultFormat
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Service{
		engine: eng,
		store:  store,
		namer:  namer,
		logger: shared.WithLogger(logger, "component", "links"),
		cfg:    cfg,
	}
}

// Instant downloads the track named by req.Source into a fresh slot and
// exposes it. The link resolves under baseURL. Any failure purges the slot.
func (s *Service) Instant(ctx context.Context, req models.Request, baseURL string) (*Instant, error) {
	req, err := tasks.Validate(models.KindDownloadTrack, req, s.cfg.DefaultFormat, nil)
	if err != nil {
		return nil, err
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	slot, err := s.store.Reserve("instant")
	if err != nil {
		return nil, err
	}

	link, size, err := s.materialize(ctx, req, slot)
	if err != nil {
		if purgeErr := s.store.Purge(slot, artifacts.ReasonFailed); purgeErr != nil {
			s.logger.Error("failed to purge partial artifact", "error", purgeErr)
		}
		return nil, err
	}

	s.logger.Info("instant link issued", "filename", link.Filename, "expires_at", link.ExpiresAt)

	return &Instant{
		SpotifyURL:       req.Source,
		AudioDownloadURL: URL(baseURL, link),
		Filename:         link.Filename,
		Format:           req.Format,
		Quality:          req.Quality,
		FileSize:         size,
		ExpiresAt:        link.ExpiresAt,
		Note:             Note,
	}, nil
}

func (s *Service) materialize(ctx context.Context, req models.Request, slot string) (artifacts.Link, int64, error) {
	opts := engine.Options{Query: req.Source, OutputDir: slot, Format: req.Format, Quality: req.Quality}
	if err := s.engine.Download(ctx, opts); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return artifacts.Link{}, 0, engine.NewError(models.CategoryTimeout, "download", fmt.Sprintf("download exceeded %s", s.cfg.Timeout), ctx.Err())
		}
		return artifacts.Link{}, 0, err
	}

	path, err := artifacts.FindAudio(slot, req.Format)
	if err != nil {
		return artifacts.Link{}, 0, err
	}

	if name := s.displayName(ctx, req); name != "" {
		if path, err = artifacts.Rename(path, name); err != nil {
			return artifacts.Link{}, 0, err
		}
	}

	size, err := s.store.Finalize(path)
	if err != nil {
		return artifacts.Link{}, 0, err
	}

	link, err := s.store.Expose(path, s.cfg.TTL)
	if err != nil {
		return artifacts.Link{}, 0, err
	}
	return link, size, nil
}

func (s *Service) displayName(ctx context.Context, req models.Request) string {
	if req.OutputFile != "" {
		return req.OutputFile
	}
	if s.namer == nil {
		return ""
	}
	ref, err := catalog.ParseURL(req.Source)
	if err != nil {
		return ""
	}
	name, err := s.namer.DisplayName(ctx, ref)
	if err != nil {
		return ""
	}
	return name
}

// URL builds the public address of link under baseURL.
func URL(baseURL string, link artifacts.Link) string {
	return strings.TrimRight(baseURL, "/") + DownloadPath + link.Token + "/" + url.PathEscape(link.Filename)
}

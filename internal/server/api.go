package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dlx/internal/artifacts"
	"github.com/desertthunder/dlx/internal/links"
	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/shared"
	"github.com/desertthunder/dlx/internal/tasks"
)

const maxBodyBytes = 1 << 20

// ResolveNote accompanies synchronous resolve responses.
const ResolveNote = "This is the YouTube URL. You can download the audio using this URL with any YouTube downloader."

// APIConfig holds the HTTP-facing settings of the [API].
type APIConfig struct {
	BaseURL     string        // Public base URL; derived from the request when empty
	ClaimWindow time.Duration // How long a fetched artifact is pinned against expiry
	Version     string
}

// API serves the task and link endpoints.
type API struct {
	orchestrator *tasks.Orchestrator
	store        *artifacts.Store
	links        *links.Service
	cfg          APIConfig
	logger       *log.Logger
}

// NewAPI creates the API handler.
func NewAPI(o *tasks.Orchestrator, l *links.Service, cfg APIConfig, logger *log.Logger) *API {
	if cfg.ClaimWindow <= 0 {
		cfg.ClaimWindow = 10 * time.Minute
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &API{
		orchestrator: o,
		store:        o.Store(),
		links:        l,
		cfg:          cfg,
		logger:       shared.WithLogger(logger, "component", "api"),
	}
}

// Routes implements [Handler].
func (a *API) Routes() []Route {
	return []Route{
		{http.MethodGet, "/{$}", a.Root},
		{http.MethodGet, "/health", a.Health},
		{http.MethodPost, "/get/download-link", a.DownloadLink},
		{http.MethodPost, "/get/audio-download-link", a.AudioDownloadLink},
		{http.MethodPost, "/download/track", a.submit(models.KindDownloadTrack, "Download started")},
		{http.MethodPost, "/download/playlist", a.submit(models.KindDownloadPlaylist, "Playlist download started")},
		{http.MethodPost, "/save/metadata", a.submit(models.KindSaveMetadata, "Metadata save started")},
		{http.MethodPost, "/get/urls", a.submit(models.KindGetURLs, "URL extraction started")},
		{http.MethodPost, "/sync/playlist", a.submit(models.KindSyncPlaylist, "Playlist sync started")},
		{http.MethodPost, "/update/metadata", a.submit(models.KindUpdateMetadata, "Metadata update started")},
		{http.MethodGet, "/status/{task_id}", a.Status},
		{http.MethodGet, "/download/{task_id}", a.Download},
		{http.MethodGet, "/tasks", a.List},
		{http.MethodDelete, "/task/{task_id}", a.Delete},
		{http.MethodGet, links.DownloadPath + "{token}/{filename}", a.TempDownload},
	}
}

// RequestBody accepts the fields of every submission endpoint. The source
// may be given as spotify_url, playlist_url or query.
type RequestBody struct {
	SpotifyURL  string   `json:"spotify_url,omitempty"`
	PlaylistURL string   `json:"playlist_url,omitempty"`
	Query       string   `json:"query,omitempty"`
	Format      string   `json:"format,omitempty"`
	Quality     string   `json:"quality,omitempty"`
	OutputFile  string   `json:"output_file,omitempty"`
	SaveFile    string   `json:"save_file,omitempty"`
	FilePaths   []string `json:"file_paths,omitempty"`
}

// Request converts the body to a task request.
func (b RequestBody) Request() models.Request {
	source := b.SpotifyURL
	if source == "" {
		source = b.PlaylistURL
	}
	if source == "" {
		source = b.Query
	}
	return models.Request{
		Source:     source,
		Format:     b.Format,
		Quality:    b.Quality,
		OutputFile: b.OutputFile,
		SaveFile:   b.SaveFile,
		FilePaths:  b.FilePaths,
	}
}

// SubmitResponse is returned by every asynchronous endpoint.
type SubmitResponse struct {
	TaskID    string `json:"task_id"`
	Message   string `json:"message"`
	StatusURL string `json:"status_url"`
}

// ResolveResponse is returned by the synchronous resolve endpoint.
type ResolveResponse struct {
	SpotifyURL   string   `json:"spotify_url"`
	DownloadURL  string   `json:"download_url"`
	DownloadURLs []string `json:"download_urls,omitempty"`
	Format       string   `json:"format"`
	Quality      string   `json:"quality"`
	Cached       bool     `json:"cached"`
	Note         string   `json:"note"`
}

// TaskView is a task snapshot as rendered by the API.
type TaskView struct {
	models.Task
	DownloadURL string `json:"download_url,omitempty"`
}

// HealthResponse reports worker pool and registry occupancy.
type HealthResponse struct {
	Status string               `json:"status"`
	Pool   tasks.Stats          `json:"pool"`
	Tasks  map[models.State]int `json:"tasks"`
	Links  int                  `json:"links"`
}

func (a *API) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "dlx API is running", "version": a.cfg.Version})
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Pool:   a.orchestrator.Stats(),
		Tasks:  a.orchestrator.Registry().Counts(),
		Links:  a.store.Links(),
	})
}

// DownloadLink resolves a catalog URL inline, or as a resolve-link task when
// the async query parameter is true.
func (a *API) DownloadLink(w http.ResponseWriter, r *http.Request) {
	if async := r.URL.Query().Get("async"); async == "true" || async == "1" {
		a.submit(models.KindResolveLink, "Link resolution started")(w, r)
		return
	}

	body, ok := decode(w, r)
	if !ok {
		return
	}

	res, err := a.orchestrator.ResolveSync(r.Context(), body.Request())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ResolveResponse{
		SpotifyURL:   res.Request.Source,
		DownloadURL:  res.URLs[0],
		DownloadURLs: res.URLs,
		Format:       res.Request.Format,
		Quality:      res.Request.Quality,
		Cached:       res.Cached,
		Note:         ResolveNote,
	})
}

// AudioDownloadLink downloads a track synchronously and returns a temporary link to it.
func (a *API) AudioDownloadLink(w http.ResponseWriter, r *http.Request) {
	body, ok := decode(w, r)
	if !ok {
		return
	}

	instant, err := a.links.Instant(r.Context(), body.Request(), a.baseURL(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instant)
}

func (a *API) submit(kind models.Kind, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decode(w, r)
		if !ok {
			return
		}

		id, err := a.orchestrator.Submit(kind, body.Request())
		if err != nil {
			writeError(w, err)
			return
		}

		statusURL := a.baseURL(r) + "/status/" + id
		w.Header().Set("Location", statusURL)
		writeJSON(w, http.StatusAccepted, SubmitResponse{TaskID: id, Message: message, StatusURL: statusURL})
	}
}

func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	task, err := a.orchestrator.Registry().Get(r.PathValue("task_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(r, task))
}

func (a *API) List(w http.ResponseWriter, r *http.Request) {
	var states []models.State
	for _, raw := range r.URL.Query()["state"] {
		for _, s := range strings.Split(raw, ",") {
			state := models.State(strings.TrimSpace(s))
			if !state.Valid() {
				writeProblem(w, http.StatusBadRequest, models.CategoryInvalidRequest, fmt.Sprintf("unknown state %q", s))
				return
			}
			states = append(states, state)
		}
	}

	snapshot := a.orchestrator.Registry().List(states...)
	views := make([]TaskView, 0, len(snapshot))
	for _, task := range snapshot {
		views = append(views, a.view(r, task))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
}

func (a *API) Delete(w http.ResponseWriter, r *http.Request) {
	if err := a.orchestrator.Delete(r.PathValue("task_id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

// Download streams a completed task's artifact. Directory artifacts are
// zipped on the fly.
func (a *API) Download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("task_id")
	task, err := a.orchestrator.Registry().Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	if task.State != models.StateCompleted {
		writeError(w, fmt.Errorf("%w: %s is %s", shared.ErrNotCompleted, id, task.State))
		return
	}
	if task.Result.Path == "" {
		writeProblem(w, http.StatusNotFound, models.CategoryNotFound, "task produced no file")
		return
	}
	if err := a.store.Claim(task.Result.Path, time.Now().Add(a.cfg.ClaimWindow)); err != nil || !a.store.Exists(task.Result.Path) {
		writeProblem(w, http.StatusNotFound, models.CategoryNotFound, "file not found")
		return
	}

	a.serveArtifact(w, r, task.Result.Path, task.Result.Filename)
}

// TempDownload serves an artifact through a link token.
func (a *API) TempDownload(w http.ResponseWriter, r *http.Request) {
	link, err := a.store.Open(r.PathValue("token"))
	if err != nil {
		if errors.Is(err, shared.ErrMissingArtifact) {
			writeProblem(w, http.StatusNotFound, models.CategoryNotFound, "file not found")
			return
		}
		writeError(w, err)
		return
	}
	a.serveArtifact(w, r, link.Path, link.Filename)
}

func (a *API) serveArtifact(w http.ResponseWriter, r *http.Request, path, filename string) {
	info, err := os.Stat(path)
	if err != nil {
		writeProblem(w, http.StatusNotFound, models.CategoryNotFound, "file not found")
		return
	}

	if filename == "" {
		filename = filepath.Base(path)
	}
	w.Header().Set("Content-Disposition", contentDisposition(filename))

	if !info.IsDir() {
		f, err := os.Open(path)
		if err != nil {
			writeError(w, err)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", artifacts.ContentType(filename))
		http.ServeContent(w, r, filename, info.ModTime(), f)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	if err := artifacts.WriteArchive(w, path); err != nil {
		// Headers are gone; all that is left is to log and cut the stream.
		a.logger.Error("failed to stream archive", "filename", filename, "error", err)
	}
}

func (a *API) view(r *http.Request, task models.Task) TaskView {
	v := TaskView{Task: task}
	if task.State == models.StateCompleted && task.Result != nil && task.Result.Path != "" {
		v.DownloadURL = a.baseURL(r) + "/download/" + task.ID
	}
	return v
}

// baseURL returns the configured public URL, or one derived from the request.
func (a *API) baseURL(r *http.Request) string {
	if a.cfg.BaseURL != "" {
		return strings.TrimRight(a.cfg.BaseURL, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}

func decode(w http.ResponseWriter, r *http.Request) (RequestBody, bool) {
	var body RequestBody
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, models.CategoryInvalidRequest, "request body must be a JSON object")
		return body, false
	}
	return body, true
}

func contentDisposition(filename string) string {
	ascii := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, ascii, url.PathEscape(filename))
}

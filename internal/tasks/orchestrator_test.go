package tasks

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dlx/internal/artifacts"
	"github.com/desertthunder/dlx/internal/engine"
	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/shared"
	tu "github.com/desertthunder/dlx/internal/testing"
)

const trackURI = "spotify:track:4uLU6hMCjMI75M1A2tKUQC"

// memoryCache is an in-process ResolveCache.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]string
}

func (c *memoryCache) Get(_ context.Context, query string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if urls, ok := c.entries[query]; ok {
		return urls, nil
	}
	return nil, shared.ErrCacheMiss
}

func (c *memoryCache) Put(_ context.Context, query string, urls []string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string][]string)
	}
	c.entries[query] = urls
	return nil
}

func (c *memoryCache) Prune(context.Context) (int64, error) { return 0, nil }
func (c *memoryCache) Close() error                         { return nil }

type harness struct {
	o      *Orchestrator
	engine *tu.FakeEngine
	store  *artifacts.Store
}

func newHarness(t *testing.T, cfg Config, start bool, opts ...Option) *harness {
	t.Helper()

	logger := log.New(io.Discard)
	store, err := artifacts.NewStore(t.TempDir(), time.Hour, logger)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	fake := &tu.FakeEngine{}
	opts = append([]Option{WithLogger(logger)}, opts...)
	o := New(NewRegistry(), fake, store, cfg, opts...)
	if start {
		o.Start(context.Background())
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.Shutdown(ctx)
	})
	return &harness{o: o, engine: fake, store: store}
}

func (h *harness) submitAndWait(t *testing.T, kind models.Kind, req models.Request) models.Task {
	t.Helper()

	id, err := h.o.Submit(kind, req)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return h.wait(t, id)
}

func (h *harness) wait(t *testing.T, id string) models.Task {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := h.o.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return task
}

func (h *harness) slots(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(h.store.Root())
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func assertFailed(t *testing.T, task models.Task, category models.Category) {
	t.Helper()
	if task.State != models.StateFailed {
		t.Fatalf("State = %q, want failed", task.State)
	}
	if task.Error == nil || task.Error.Category != category {
		t.Fatalf("Error = %+v, want category %s", task.Error, category)
	}
	if task.Result != nil {
		t.Errorf("failed task carries result %+v", task.Result)
	}
}

func TestOrchestrator_DownloadTrack(t *testing.T) {
	tests := []struct {
		name     string
		req      models.Request
		opts     []Option
		wantName string
	}{
		{
			name:     "engine file name",
			req:      models.Request{Source: trackURL},
			wantName: tu.FakeTrackFile + ".mp3",
		},
		{
			name:     "catalog display name",
			req:      models.Request{Source: trackURL, Format: "flac"},
			opts:     []Option{WithNamer(tu.FakeNamer{trackURI: "Rick Astley - Never Gonna Give You Up (Remastered)"})},
			wantName: "Rick Astley - Never Gonna Give You Up (Remastered).flac",
		},
		{
			name:     "caller output name wins",
			req:      models.Request{Source: trackURL, OutputFile: "mine"},
			opts:     []Option{WithNamer(tu.FakeNamer{trackURI: "ignored"})},
			wantName: "mine.mp3",
		},
		{
			name:     "unknown catalog entry keeps engine name",
			req:      models.Request{Source: trackURL},
			opts:     []Option{WithNamer(tu.FakeNamer{})},
			wantName: tu.FakeTrackFile + ".mp3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{Workers: 1}, true, tt.opts...)
			task := h.submitAndWait(t, models.KindDownloadTrack, tt.req)

			if task.State != models.StateCompleted {
				t.Fatalf("State = %q (error %+v), want completed", task.State, task.Error)
			}
			if task.Result.Filename != tt.wantName {
				t.Errorf("Filename = %q, want %q", task.Result.Filename, tt.wantName)
			}
			if filepath.Base(task.Result.Path) != tt.wantName {
				t.Errorf("Path = %q", task.Result.Path)
			}
			if task.Result.FileSize != int64(len("ID3 fake audio")) {
				t.Errorf("FileSize = %d", task.Result.FileSize)
			}
			tu.AssertFileExists(t, task.Result.Path)
			if task.StartedAt == nil || task.FinishedAt == nil {
				t.Error("timestamps not recorded")
			}
		})
	}
}

func TestOrchestrator_EngineOptions(t *testing.T) {
	h := newHarness(t, Config{Workers: 1}, true)
	task := h.submitAndWait(t, models.KindDownloadTrack, models.Request{Source: trackURL, Format: "opus", Quality: "160k"})
	if task.State != models.StateCompleted {
		t.Fatalf("State = %q", task.State)
	}

	opts := h.engine.Options()
	if len(opts) != 1 {
		t.Fatalf("engine called %d times", len(opts))
	}
	got := opts[0]
	if got.Query != trackURL || got.Format != "opus" || got.Quality != "160k" {
		t.Errorf("engine options = %+v", got)
	}
	if filepath.Dir(task.Result.Path) != got.OutputDir {
		t.Errorf("artifact %q not in engine output dir %q", task.Result.Path, got.OutputDir)
	}
}

func TestOrchestrator_Failures(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		download func(ctx context.Context, opts engine.Options) error
		want     models.Category
		wantMsg  string
	}{
		{
			name: "no match",
			download: func(context.Context, engine.Options) error {
				return engine.NewError(models.CategoryNotFound, "download", "no results found", nil)
			},
			want:    models.CategoryNotFound,
			wantMsg: "no results found",
		},
		{
			name: "engine crash",
			download: func(context.Context, engine.Options) error {
				return engine.NewError(models.CategoryEngineFailure, "download", "engine exited with status 1: ffmpeg not found", nil)
			},
			want:    models.CategoryEngineFailure,
			wantMsg: "ffmpeg",
		},
		{
			name:     "success without output",
			download: func(context.Context, engine.Options) error { return nil },
			want:     models.CategoryEngineFailure,
		},
		{
			name: "filesystem error",
			download: func(_ context.Context, opts engine.Options) error {
				_, err := os.Open(filepath.Join(opts.OutputDir, "missing", "x.mp3"))
				return err
			},
			want: models.CategoryIOFailure,
		},
		{
			name: "worker panic",
			download: func(context.Context, engine.Options) error {
				panic("codec exploded")
			},
			want:    models.CategoryEngineFailure,
			wantMsg: "worker crashed",
		},
		{
			name:    "timeout with cooperative engine",
			timeout: 50 * time.Millisecond,
			download: func(ctx context.Context, _ engine.Options) error {
				<-ctx.Done()
				return ctx.Err()
			},
			want: models.CategoryTimeout,
		},
		{
			name:    "timeout with stuck engine",
			timeout: 50 * time.Millisecond,
			download: func(context.Context, engine.Options) error {
				time.Sleep(500 * time.Millisecond)
				return nil
			},
			want: models.CategoryTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{Workers: 1, Timeout: tt.timeout}, true)
			h.engine.DownloadFunc = tt.download

			task := h.submitAndWait(t, models.KindDownloadTrack, models.Request{Source: trackURL})
			assertFailed(t, task, tt.want)

			if tt.wantMsg != "" && !strings.Contains(task.Error.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want it to contain %q", task.Error.Message, tt.wantMsg)
			}
			if strings.Contains(task.Error.Message, h.store.Root()) {
				t.Errorf("Message leaks artifact path: %q", task.Error.Message)
			}
			if n := len(h.slots(t)); n != 0 {
				t.Errorf("%d slots left after failure, want 0", n)
			}
		})
	}
}

func TestOrchestrator_WorkerSurvivesFailure(t *testing.T) {
	h := newHarness(t, Config{Workers: 1}, true)
	var calls int
	h.engine.DownloadFunc = func(_ context.Context, opts engine.Options) error {
		calls++
		if calls == 1 {
			panic("first call fails")
		}
		return os.WriteFile(filepath.Join(opts.OutputDir, "ok.mp3"), []byte("ID3"), 0o644)
	}

	first := h.submitAndWait(t, models.KindDownloadTrack, models.Request{Source: trackURL})
	second := h.submitAndWait(t, models.KindDownloadTrack, models.Request{Source: trackURL})

	assertFailed(t, first, models.CategoryEngineFailure)
	if second.State != models.StateCompleted {
		t.Errorf("second task State = %q, want completed", second.State)
	}
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	h := newHarness(t, Config{Workers: 1}, true)

	_, err := h.o.Submit(models.KindDownloadPlaylist, models.Request{Source: trackURL})
	if !errors.Is(err, shared.ErrInvalidRequest) {
		t.Fatalf("Submit() error = %v, want ErrInvalidRequest", err)
	}
	if h.o.Registry().Len() != 0 {
		t.Error("invalid submission created a task")
	}
	if h.engine.Calls() != 0 {
		t.Error("invalid submission reached the engine")
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	h := newHarness(t, Config{Workers: 1, QueueSize: 2}, false)

	var ids []string
	for i := 0; i < 2; i++ {
		id, err := h.o.Submit(models.KindResolveLink, models.Request{Source: trackURL})
		if err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
		ids = append(ids, id)
	}

	if _, err := h.o.Submit(models.KindResolveLink, models.Request{Source: trackURL}); !errors.Is(err, shared.ErrQueueFull) {
		t.Fatalf("Submit() over capacity error = %v, want ErrQueueFull", err)
	}
	if h.o.Registry().Len() != 2 {
		t.Errorf("Len() = %d, want 2", h.o.Registry().Len())
	}
	if stats := h.o.Stats(); stats.Queued != 2 {
		t.Errorf("Stats().Queued = %d, want 2", stats.Queued)
	}

	h.o.Start(context.Background())
	for _, id := range ids {
		if task := h.wait(t, id); task.State != models.StateCompleted {
			t.Errorf("task %s State = %q", id, task.State)
		}
	}
}

func TestOrchestrator_ConcurrentSameSource(t *testing.T) {
	const n = 6
	h := newHarness(t, Config{Workers: 3}, true)

	ids := make([]string, n)
	for i := range ids {
		id, err := h.o.Submit(models.KindDownloadTrack, models.Request{Source: trackURL})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		ids[i] = id
	}

	paths := make(map[string]bool, n)
	for _, id := range ids {
		task := h.wait(t, id)
		if task.State != models.StateCompleted {
			t.Fatalf("task %s State = %q (%+v)", id, task.State, task.Error)
		}
		if paths[task.Result.Path] {
			t.Fatalf("two tasks share output path %s", task.Result.Path)
		}
		paths[task.Result.Path] = true
		tu.AssertFileExists(t, task.Result.Path)
	}
}

func TestOrchestrator_ResolveLink(t *testing.T) {
	h := newHarness(t, Config{Workers: 1}, true)
	task := h.submitAndWait(t, models.KindResolveLink, models.Request{Source: trackURL})

	if task.State != models.StateCompleted {
		t.Fatalf("State = %q", task.State)
	}
	if len(task.Result.URLs) != 1 || task.Result.URLs[0] != tu.FakeURL {
		t.Errorf("URLs = %v", task.Result.URLs)
	}
	if task.Result.Path != "" {
		t.Errorf("resolve-link produced a file: %s", task.Result.Path)
	}
	if n := len(h.slots(t)); n != 0 {
		t.Errorf("resolve-link reserved %d slots", n)
	}
}

func TestOrchestrator_ResolveSync(t *testing.T) {
	t.Run("cache miss then hit", func(t *testing.T) {
		cache := &memoryCache{}
		h := newHarness(t, Config{Workers: 1}, false, WithResolveCache(cache, time.Hour))

		first, err := h.o.ResolveSync(context.Background(), models.Request{Source: trackURL})
		if err != nil || first.Cached || len(first.URLs) != 1 {
			t.Fatalf("first ResolveSync() = %+v, %v", first, err)
		}
		if first.Request.Format != "mp3" || first.Request.Quality != "best" {
			t.Errorf("normalized request = %+v", first.Request)
		}

		second, err := h.o.ResolveSync(context.Background(), models.Request{Source: trackURL})
		if err != nil || !second.Cached || second.URLs[0] != tu.FakeURL {
			t.Fatalf("second ResolveSync() = %+v, %v", second, err)
		}
		if h.engine.Calls() != 1 {
			t.Errorf("engine calls = %d, want 1", h.engine.Calls())
		}
		if h.o.Registry().Len() != 0 {
			t.Error("ResolveSync created a task")
		}
	})

	t.Run("no match", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1}, false)
		h.engine.ResolveFunc = func(context.Context, string) ([]string, error) { return nil, nil }

		_, err := h.o.ResolveSync(context.Background(), models.Request{Source: trackURL})
		if engine.CategoryOf(err) != models.CategoryNotFound {
			t.Errorf("ResolveSync() error = %v, want NotFound", err)
		}
	})

	t.Run("rejects free text", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1}, false)
		if _, err := h.o.ResolveSync(context.Background(), models.Request{Source: "rick"}); !errors.Is(err, shared.ErrInvalidRequest) {
			t.Errorf("ResolveSync() error = %v, want ErrInvalidRequest", err)
		}
	})
}

func TestOrchestrator_GetURLs(t *testing.T) {
	h := newHarness(t, Config{Workers: 1}, true)
	h.engine.ResolveFunc = func(context.Context, string) ([]string, error) {
		return []string{"https://a.example/1", "https://a.example/2"}, nil
	}

	task := h.submitAndWait(t, models.KindGetURLs, models.Request{Source: "rick astley"})
	if task.State != models.StateCompleted {
		t.Fatalf("State = %q (%+v)", task.State, task.Error)
	}
	if task.Result.Filename != URLsFilename || len(task.Result.URLs) != 2 {
		t.Errorf("Result = %+v", task.Result)
	}
	if got := tu.MustReadFile(t, task.Result.Path); got != "https://a.example/1\nhttps://a.example/2\n" {
		t.Errorf("urls.txt = %q", got)
	}
}

func TestOrchestrator_DirectoryKinds(t *testing.T) {
	t.Run("download playlist", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1}, true)
		h.engine.DownloadFunc = func(_ context.Context, opts engine.Options) error {
			for _, name := range []string{"b.mp3", "a.mp3"} {
				if err := os.WriteFile(filepath.Join(opts.OutputDir, name), []byte("ID3"), 0o644); err != nil {
					return err
				}
			}
			return nil
		}

		task := h.submitAndWait(t, models.KindDownloadPlaylist, models.Request{Source: playlistURL})
		if task.State != models.StateCompleted {
			t.Fatalf("State = %q (%+v)", task.State, task.Error)
		}
		r := task.Result
		if !r.IsDir || r.FileSize != 6 {
			t.Errorf("Result = %+v", r)
		}
		if r.Filename != "playlist_"+task.ID+".zip" {
			t.Errorf("Filename = %q", r.Filename)
		}
		if len(r.Files) != 2 || r.Files[0] != "a.mp3" {
			t.Errorf("Files = %v", r.Files)
		}
	})

	t.Run("download playlist named from catalog", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1}, true, WithNamer(tu.FakeNamer{"spotify:playlist:37i9dQZF1DXcBWIGoYBM5M": "Today's Top Hits"}))
		h.engine.DownloadFunc = func(_ context.Context, opts engine.Options) error {
			return os.WriteFile(filepath.Join(opts.OutputDir, "a.mp3"), []byte("ID3"), 0o644)
		}

		task := h.submitAndWait(t, models.KindDownloadPlaylist, models.Request{Source: playlistURL})
		if task.Result == nil || task.Result.Filename != "Today's Top Hits.zip" {
			t.Errorf("Result = %+v", task.Result)
		}
	})

	t.Run("empty playlist download fails", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1}, true)
		h.engine.DownloadFunc = func(context.Context, engine.Options) error { return nil }

		task := h.submitAndWait(t, models.KindDownloadPlaylist, models.Request{Source: playlistURL})
		assertFailed(t, task, models.CategoryEngineFailure)
	})

	t.Run("sync playlist", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1}, true)
		task := h.submitAndWait(t, models.KindSyncPlaylist, models.Request{Source: playlistURL, SaveFile: "state"})
		if task.State != models.StateCompleted {
			t.Fatalf("State = %q (%+v)", task.State, task.Error)
		}

		want := []string{"A - One.mp3", "B - Two.mp3", "state.spotdl"}
		if strings.Join(task.Result.Files, ",") != strings.Join(want, ",") {
			t.Errorf("Files = %v, want %v", task.Result.Files, want)
		}
		opts := h.engine.Options()[0]
		if opts.SaveFile != filepath.Join(opts.OutputDir, "state.spotdl") {
			t.Errorf("SaveFile = %q not inside %q", opts.SaveFile, opts.OutputDir)
		}
	})
}

func TestOrchestrator_SaveMetadata(t *testing.T) {
	h := newHarness(t, Config{Workers: 1}, true)
	task := h.submitAndWait(t, models.KindSaveMetadata, models.Request{Source: playlistURL, SaveFile: "list"})

	if task.State != models.StateCompleted {
		t.Fatalf("State = %q (%+v)", task.State, task.Error)
	}
	if task.Result.Filename != "list.spotdl" {
		t.Errorf("Filename = %q", task.Result.Filename)
	}
	if !strings.Contains(tu.MustReadFile(t, task.Result.Path), "Never Gonna") {
		t.Error("save file content missing")
	}
}

func TestOrchestrator_UpdateMetadata(t *testing.T) {
	h := newHarness(t, Config{Workers: 1}, true)
	tu.WriteFile(t, filepath.Join(h.store.Root(), "library", "a.mp3"), "ID3")

	var (
		touchedRoot string
		touched     []string
	)
	h.engine.MetaFunc = func(_ context.Context, root string, files []string) error {
		touchedRoot, touched = root, files
		return nil
	}

	task := h.submitAndWait(t, models.KindUpdateMetadata, models.Request{FilePaths: []string{"library/a.mp3"}})
	if task.State != models.StateCompleted {
		t.Fatalf("State = %q (%+v)", task.State, task.Error)
	}
	if len(task.Result.Files) != 1 || task.Result.Files[0] != "library/a.mp3" {
		t.Errorf("Files = %v", task.Result.Files)
	}
	if touchedRoot != h.store.Root() || len(touched) != 1 || touched[0] != filepath.Join("library", "a.mp3") {
		t.Errorf("engine saw root %q files %v", touchedRoot, touched)
	}

	missing := h.submitAndWait(t, models.KindUpdateMetadata, models.Request{FilePaths: []string{"library/gone.mp3"}})
	assertFailed(t, missing, models.CategoryNotFound)
	tu.AssertFileExists(t, filepath.Join(h.store.Root(), "library", "a.mp3"))
}

func TestOrchestrator_Delete(t *testing.T) {
	t.Run("purges artifact", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1}, true)
		task := h.submitAndWait(t, models.KindDownloadTrack, models.Request{Source: trackURL})

		if err := h.o.Delete(task.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		tu.AssertNotExists(t, task.Result.Path)
		tu.AssertNotExists(t, filepath.Dir(task.Result.Path))
		if _, err := h.o.Registry().Get(task.ID); !errors.Is(err, shared.ErrTaskNotFound) {
			t.Errorf("Get() after delete error = %v", err)
		}
		if err := h.o.Delete(task.ID); !errors.Is(err, shared.ErrTaskNotFound) {
			t.Errorf("second Delete() error = %v, want ErrTaskNotFound", err)
		}
	})

	t.Run("running task is busy", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1}, true)
		h.engine.Block = make(chan struct{})
		defer close(h.engine.Block)

		id, err := h.o.Submit(models.KindDownloadTrack, models.Request{Source: trackURL})
		if err != nil {
			t.Fatal(err)
		}
		if err := h.o.Delete(id); !errors.Is(err, shared.ErrTaskBusy) {
			t.Errorf("Delete() error = %v, want ErrTaskBusy", err)
		}
	})

	t.Run("failed task without artifact", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1}, true)
		h.engine.DownloadFunc = func(context.Context, engine.Options) error {
			return engine.NewError(models.CategoryNotFound, "download", "no results found", nil)
		}
		task := h.submitAndWait(t, models.KindDownloadTrack, models.Request{Source: trackURL})
		if err := h.o.Delete(task.ID); err != nil {
			t.Errorf("Delete() error = %v", err)
		}
	})
}

func TestOrchestrator_Shutdown(t *testing.T) {
	t.Run("drains queued work", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1}, true)
		id, _ := h.o.Submit(models.KindResolveLink, models.Request{Source: trackURL})

		if err := h.o.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
		task, _ := h.o.Registry().Get(id)
		if task.State != models.StateCompleted {
			t.Errorf("State = %q, want completed", task.State)
		}
		if _, err := h.o.Submit(models.KindResolveLink, models.Request{Source: trackURL}); !errors.Is(err, shared.ErrShuttingDown) {
			t.Errorf("Submit() after shutdown error = %v, want ErrShuttingDown", err)
		}
	})

	t.Run("fails queued work when never started", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1, QueueSize: 4}, false)
		first, _ := h.o.Submit(models.KindResolveLink, models.Request{Source: trackURL})
		second, _ := h.o.Submit(models.KindDownloadTrack, models.Request{Source: trackURL})

		if err := h.o.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
		for _, id := range []string{first, second} {
			task := h.wait(t, id)
			assertFailed(t, task, models.CategoryEngineFailure)
			if task.Error.Message != "task cancelled by shutdown" {
				t.Errorf("Message = %q", task.Error.Message)
			}
		}
		if h.engine.Calls() != 0 {
			t.Errorf("engine called %d times", h.engine.Calls())
		}
		if stats := h.o.Stats(); stats.Queued != 0 {
			t.Errorf("Queued = %d after shutdown", stats.Queued)
		}
	})

	t.Run("cancels stuck work on deadline", func(t *testing.T) {
		h := newHarness(t, Config{Workers: 1}, true)
		h.engine.Block = make(chan struct{})
		defer close(h.engine.Block)

		id, _ := h.o.Submit(models.KindDownloadTrack, models.Request{Source: trackURL})
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		if err := h.o.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Shutdown() error = %v, want DeadlineExceeded", err)
		}
		task, _ := h.o.Registry().Get(id)
		assertFailed(t, task, models.CategoryEngineFailure)
	})
}

func TestOrchestrator_UnrecordedCompletion(t *testing.T) {
	logs := &tu.SyncBuffer{}
	h := newHarness(t, Config{Workers: 1}, true, WithLogger(log.New(logs)))

	var slot string
	h.engine.DownloadFunc = func(_ context.Context, opts engine.Options) error {
		slot = opts.OutputDir
		for _, task := range h.o.Registry().List(models.StateRunning) {
			taskErr := &models.TaskError{Category: models.CategoryIOFailure, Message: "recorded elsewhere"}
			if err := h.o.Registry().Transition(task.ID, models.StateFailed, nil, taskErr); err != nil {
				return err
			}
		}
		return os.WriteFile(filepath.Join(opts.OutputDir, "song.mp3"), []byte("ID3"), 0o644)
	}

	id, err := h.o.Submit(models.KindDownloadTrack, models.Request{Source: trackURL})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := h.o.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	task, _ := h.o.Registry().Get(id)
	assertFailed(t, task, models.CategoryIOFailure)
	if slot == "" {
		t.Fatal("engine never ran")
	}
	tu.AssertNotExists(t, slot)
	if !strings.Contains(logs.String(), "failed to record completion") {
		t.Errorf("log missing completion failure: %s", logs.String())
	}
}

func TestOrchestrator_Events(t *testing.T) {
	events := make(chan Event, 16)
	h := newHarness(t, Config{Workers: 1}, true, WithEvents(events))
	task := h.submitAndWait(t, models.KindResolveLink, models.Request{Source: trackURL})

	var phases []Phase
	for len(phases) < 3 {
		select {
		case ev := <-events:
			if ev.TaskID != task.ID {
				t.Fatalf("event for %s, want %s", ev.TaskID, task.ID)
			}
			phases = append(phases, ev.Phase)
		case <-time.After(time.Second):
			t.Fatalf("only received %v", phases)
		}
	}

	want := []Phase{PhaseQueued, PhaseStarted, PhaseCompleted}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase[%d] = %s, want %s", i, phases[i], want[i])
		}
	}
}

func TestOrchestrator_WaitUnknown(t *testing.T) {
	h := newHarness(t, Config{Workers: 1}, false)
	if _, err := h.o.Wait(context.Background(), "missing"); !errors.Is(err, shared.ErrTaskNotFound) {
		t.Errorf("Wait() error = %v, want ErrTaskNotFound", err)
	}
}

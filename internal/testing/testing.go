// package testing contains shared testing utilities
package testing

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/desertthunder/dlx/internal/catalog"
	"github.com/desertthunder/dlx/internal/engine"
)

// FakeEngine is a test double for [engine.Engine].
//
// Without overrides it resolves every query to [FakeURL], writes a small
// audio file named [FakeTrackFile] plus the format extension on Download,
// writes the save file on Save and Sync, and accepts Meta calls.
type FakeEngine struct {
	ResolveFunc  func(ctx context.Context, query string) ([]string, error)
	DownloadFunc func(ctx context.Context, opts engine.Options) error
	SaveFunc     func(ctx context.Context, opts engine.Options) error
	SyncFunc     func(ctx context.Context, opts engine.Options) error
	MetaFunc     func(ctx context.Context, root string, files []string) error

	// Block, when set, holds every call until it is closed or ctx ends.
	Block chan struct{}

	calls atomic.Int64
	mu    sync.Mutex
	opts  []engine.Options
}

const (
	FakeURL       = "https://music.youtube.com/watch?v=dQw4w9WgXcQ"
	FakeTrackFile = "Rick Astley - Never Gonna Give You Up"
)

// Calls returns the number of engine invocations.
func (f *FakeEngine) Calls() int { return int(f.calls.Load()) }

// Options returns the options of every Download, Save and Sync call.
func (f *FakeEngine) Options() []engine.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Options(nil), f.opts...)
}

func (f *FakeEngine) enter(ctx context.Context, opts *engine.Options) error {
	f.calls.Add(1)
	if opts != nil {
		f.mu.Lock()
		f.opts = append(f.opts, *opts)
		f.mu.Unlock()
	}
	if f.Block == nil {
		return nil
	}
	select {
	case <-f.Block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeEngine) Resolve(ctx context.Context, query string) ([]string, error) {
	if err := f.enter(ctx, nil); err != nil {
		return nil, err
	}
	if f.ResolveFunc != nil {
		return f.ResolveFunc(ctx, query)
	}
	return []string{FakeURL}, nil
}

func (f *FakeEngine) Download(ctx context.Context, opts engine.Options) error {
	if err := f.enter(ctx, &opts); err != nil {
		return err
	}
	if f.DownloadFunc != nil {
		return f.DownloadFunc(ctx, opts)
	}
	format := opts.Format
	if format == "" {
		format = engine.DefaultFormat
	}
	return os.WriteFile(filepath.Join(opts.OutputDir, FakeTrackFile+"."+format), []byte("ID3 fake audio"), 0o644)
}

func (f *FakeEngine) Save(ctx context.Context, opts engine.Options) error {
	if err := f.enter(ctx, &opts); err != nil {
		return err
	}
	if f.SaveFunc != nil {
		return f.SaveFunc(ctx, opts)
	}
	return os.WriteFile(opts.SaveFile, []byte(`[{"name": "Never Gonna Give You Up"}]`), 0o644)
}

func (f *FakeEngine) Sync(ctx context.Context, opts engine.Options) error {
	if err := f.enter(ctx, &opts); err != nil {
		return err
	}
	if f.SyncFunc != nil {
		return f.SyncFunc(ctx, opts)
	}
	for _, name := range []string{"A - One.mp3", "B - Two.mp3"} {
		if err := os.WriteFile(filepath.Join(opts.OutputDir, name), []byte("ID3"), 0o644); err != nil {
			return err
		}
	}
	return os.WriteFile(opts.SaveFile, []byte(`{"type": "sync"}`), 0o644)
}

func (f *FakeEngine) Meta(ctx context.Context, root string, files []string) error {
	if err := f.enter(ctx, nil); err != nil {
		return err
	}
	if f.MetaFunc != nil {
		return f.MetaFunc(ctx, root, files)
	}
	return nil
}

// FakeNamer is a test double for [catalog.Namer] backed by a map of URIs.
type FakeNamer map[string]string

func (n FakeNamer) DisplayName(_ context.Context, ref catalog.Ref) (string, error) {
	if name, ok := n[ref.URI()]; ok {
		return name, nil
	}
	return "", catalog.ErrNotFound
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// SyncBuffer is a [bytes.Buffer] safe for loggers writing from several goroutines
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// FCloser is a response body whose reads always fail
type FCloser struct{}

func (f *FCloser) Read(p []byte) (int, error) { return 0, errors.New("read failed") }
func (f *FCloser) Close() error               { return nil }

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// WriteFile creates path (and its parents) with content.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Path still exists: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

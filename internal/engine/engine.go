package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/shared"
)

// Engine is the retrieval engine contract consumed by the orchestrator and link service.
type Engine interface {
	// Resolve maps a catalog URL or query to playable source URLs.
	Resolve(ctx context.Context, query string) ([]string, error)
	// Download writes encoded audio for opts.Query into opts.OutputDir.
	Download(ctx context.Context, opts Options) error
	// Save writes metadata for opts.Query to opts.SaveFile without downloading audio.
	Save(ctx context.Context, opts Options) error
	// Sync downloads opts.Query into opts.OutputDir and records state in opts.SaveFile.
	Sync(ctx context.Context, opts Options) error
	// Meta rewrites tags in place for files, given relative to root.
	Meta(ctx context.Context, root string, files []string) error
}

// Options parameterizes a single engine invocation.
type Options struct {
	Query     string
	OutputDir string
	Format    string
	Quality   string
	SaveFile  string
}

// DefaultFormat is the container the engine produces when none is requested.
const DefaultFormat = "mp3"

// SpotDL runs the spotdl command line tool as a subprocess per call.
type SpotDL struct {
	binary   string
	cacheDir string
	logger   *log.Logger
}

// NewSpotDL creates an engine adapter for binary. XDG directories for the
// engine process live under cacheDir.
func NewSpotDL(binary, cacheDir string, logger *log.Logger) *SpotDL {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &SpotDL{
		binary:   binary,
		cacheDir: cacheDir,
		logger:   shared.WithLogger(logger, "component", "engine"),
	}
}

// NewSpotDLFromConfig creates an engine adapter from [shared.EngineConfig].
func NewSpotDLFromConfig(cfg shared.EngineConfig, logger *log.Logger) *SpotDL {
	return NewSpotDL(cfg.Binary, cfg.CacheDir, logger)
}

// Resolve runs `spotdl url` and returns every http(s) line of its output.
func (s *SpotDL) Resolve(ctx context.Context, query string) ([]string, error) {
	stdout, err := s.run(ctx, "url", []string{query}, "")
	if err != nil {
		return nil, err
	}

	urls := parseURLs(stdout)
	if len(urls) == 0 {
		return nil, NewError(models.CategoryNotFound, "url", "no valid download URL found", nil)
	}
	return urls, nil
}

// Download runs `spotdl download`.
func (s *SpotDL) Download(ctx context.Context, opts Options) error {
	args := []string{opts.Query, "--output", opts.OutputDir}
	args = append(args, formatArgs(opts, true)...)
	_, err := s.run(ctx, "download", args, opts.OutputDir)
	return err
}

// Save runs `spotdl save`.
func (s *SpotDL) Save(ctx context.Context, opts Options) error {
	args := []string{opts.Query, "--save-file", opts.SaveFile}
	_, err := s.run(ctx, "save", args, filepath.Dir(opts.SaveFile))
	return err
}

// Sync runs `spotdl sync`. The output directory is the working directory of
// the process, which is where spotdl places synced files.
func (s *SpotDL) Sync(ctx context.Context, opts Options) error {
	args := []string{opts.Query, "--save-file", opts.SaveFile}
	args = append(args, formatArgs(opts, false)...)
	_, err := s.run(ctx, "sync", args, opts.OutputDir)
	return err
}

// Meta runs `spotdl meta` from root over files relative to it, so engine
// output names files the way callers named them.
func (s *SpotDL) Meta(ctx context.Context, root string, files []string) error {
	if len(files) == 0 {
		return NewError(models.CategoryInvalidRequest, "meta", "no files given", shared.ErrInvalidRequest)
	}
	_, err := s.run(ctx, "meta", files, root)
	return err
}

// formatArgs builds --format/--quality flags. "best" quality is the engine
// default and is never passed; the format flag is always passed for
// downloads and only for non-default formats otherwise.
func formatArgs(opts Options, alwaysFormat bool) []string {
	var args []string
	if opts.Format != "" && (alwaysFormat || opts.Format != DefaultFormat) {
		args = append(args, "--format", opts.Format)
	}
	if opts.Quality != "" && opts.Quality != "best" {
		args = append(args, "--quality", opts.Quality)
	}
	return args
}

// run executes one engine subcommand in its own process group and returns stdout.
func (s *SpotDL) run(ctx context.Context, op string, args []string, dir string) (string, error) {
	env, err := s.environ()
	if err != nil {
		return "", NewError(models.CategoryIOFailure, op, "failed to prepare engine environment", err)
	}

	cmd := exec.CommandContext(ctx, s.binary, append([]string{op}, args...)...)
	cmd.Dir = dir
	cmd.Env = env
	if dir != "" {
		cmd.Env = append(cmd.Env, "PWD="+dir)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	s.logger.Debug("starting engine", "op", op, "args", len(args))

	err = cmd.Run()
	elapsed := time.Since(started)

	if err != nil && ctx.Err() != nil {
		ctxErr := ctx.Err()
		s.logger.Warn("engine call abandoned", "op", op, "elapsed", elapsed, "reason", ctxErr)
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return "", NewError(models.CategoryTimeout, op, "engine call exceeded the configured timeout", ctxErr)
		}
		return "", NewError(models.CategoryEngineFailure, op, "engine call cancelled", ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", NewError(models.CategoryEngineFailure, op, "failed to start engine", err)
		}

		detail := scrub(tail(stderr.String(), 300), dir)
		if detail == "" {
			detail = scrub(tail(stdout.String(), 300), dir)
		}
		s.logger.Debug("engine failed", "op", op, "exit_code", exitErr.ExitCode(), "stderr", detail)

		message := fmt.Sprintf("engine exited with status %d", exitErr.ExitCode())
		if detail != "" {
			message = fmt.Sprintf("%s: %s", message, detail)
		}
		return "", NewError(classify(stderr.String()+stdout.String()), op, message, err)
	}

	s.logger.Debug("engine finished", "op", op, "elapsed", elapsed)
	return stdout.String(), nil
}

// environ returns the process environment with XDG directories redirected
// under the adapter's cache directory.
func (s *SpotDL) environ() ([]string, error) {
	env := os.Environ()
	if s.cacheDir == "" {
		return env, nil
	}

	for key, sub := range map[string]string{
		"XDG_CACHE_HOME":  "cache",
		"XDG_CONFIG_HOME": "config",
		"XDG_DATA_HOME":   "data",
	} {
		path := filepath.Join(s.cacheDir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
		env = append(env, key+"="+path)
	}
	return env, nil
}

func parseURLs(out string) []string {
	var urls []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			urls = append(urls, line)
		}
	}
	return urls
}

// scrub removes the working directory from engine output. Paths below dir
// become relative to it.
func scrub(s, dir string) string {
	if dir == "" {
		return s
	}
	dir = filepath.Clean(dir)
	s = strings.ReplaceAll(s, dir+string(filepath.Separator), "")
	return strings.ReplaceAll(s, dir, ".")
}

package tasks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/dlx/internal/artifacts"
	"github.com/desertthunder/dlx/internal/catalog"
	"github.com/desertthunder/dlx/internal/engine"
	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/shared"
)

// URLsFilename is the artifact written by get-urls tasks.
const URLsFilename = "urls.txt"

// perform does the kind-specific work of task. slot is the reserved output
// directory for artifact-producing kinds and empty otherwise.
func (o *Orchestrator) perform(ctx context.Context, task models.Task, slot string) (*models.Result, error) {
	req := task.Request

	switch task.Kind {
	case models.KindResolveLink:
		urls, _, err := o.resolve(ctx, req.Source)
		if err != nil {
			return nil, err
		}
		return &models.Result{URLs: urls}, nil

	case models.KindGetURLs:
		return o.getURLs(ctx, req, slot)

	case models.KindDownloadTrack:
		return o.downloadTrack(ctx, req, slot)

	case models.KindDownloadPlaylist:
		if err := o.invoke(ctx, func() error {
			return o.engine.Download(ctx, engine.Options{Query: req.Source, OutputDir: slot, Format: req.Format, Quality: req.Quality})
		}); err != nil {
			return nil, err
		}
		return o.directoryResult(ctx, task, slot)

	case models.KindSyncPlaylist:
		if err := o.invoke(ctx, func() error {
			return o.engine.Sync(ctx, engine.Options{
				Query:     req.Source,
				OutputDir: slot,
				Format:    req.Format,
				Quality:   req.Quality,
				SaveFile:  filepath.Join(slot, req.SaveFile),
			})
		}); err != nil {
			return nil, err
		}
		return o.directoryResult(ctx, task, slot)

	case models.KindSaveMetadata:
		path := filepath.Join(slot, req.SaveFile)
		if err := o.invoke(ctx, func() error {
			return o.engine.Save(ctx, engine.Options{Query: req.Source, SaveFile: path})
		}); err != nil {
			return nil, err
		}
		return o.fileResult(path)

	case models.KindUpdateMetadata:
		return o.updateMetadata(ctx, req)

	default:
		return nil, fmt.Errorf("%w: unknown task kind %q", shared.ErrInvalidRequest, task.Kind)
	}
}

// invoke waits for the engine rate limiter and then runs call.
func (o *Orchestrator) invoke(ctx context.Context, call func() error) error {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return engine.NewError(models.CategoryEngineFailure, "", "engine rate limit", err)
		}
	}
	return call()
}

// resolve answers from the resolve cache when possible and fills it on a miss.
func (o *Orchestrator) resolve(ctx context.Context, query string) ([]string, bool, error) {
	if o.cache != nil {
		urls, err := o.cache.Get(ctx, query)
		switch {
		case err == nil && len(urls) > 0:
			o.metrics.CacheLookup(true)
			return urls, true, nil
		case err != nil && !errors.Is(err, shared.ErrCacheMiss):
			o.logger.Warn("resolve cache lookup failed", "error", err)
		}
		o.metrics.CacheLookup(false)
	}

	var urls []string
	err := o.invoke(ctx, func() error {
		var err error
		urls, err = o.engine.Resolve(ctx, query)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if len(urls) == 0 {
		return nil, false, engine.NewError(models.CategoryNotFound, "url", "no valid download URL found", nil)
	}

	if o.cache != nil {
		if err := o.cache.Put(ctx, query, urls, o.cacheTTL); err != nil {
			o.logger.Warn("failed to cache resolved urls", "error", err)
		}
	}
	return urls, false, nil
}

func (o *Orchestrator) getURLs(ctx context.Context, req models.Request, slot string) (*models.Result, error) {
	urls, _, err := o.resolve(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(slot, URLsFilename)
	if err := os.WriteFile(path, []byte(strings.Join(urls, "\n")+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write url list: %w", err)
	}

	result, err := o.fileResult(path)
	if err != nil {
		return nil, err
	}
	result.URLs = urls
	return result, nil
}

func (o *Orchestrator) downloadTrack(ctx context.Context, req models.Request, slot string) (*models.Result, error) {
	if err := o.invoke(ctx, func() error {
		return o.engine.Download(ctx, engine.Options{Query: req.Source, OutputDir: slot, Format: req.Format, Quality: req.Quality})
	}); err != nil {
		return nil, err
	}

	produced, err := artifacts.FindAudio(slot, req.Format)
	if err != nil {
		return nil, err
	}

	if name := o.trackName(ctx, req); name != "" {
		if produced, err = artifacts.Rename(produced, name); err != nil {
			return nil, err
		}
	}
	return o.fileResult(produced)
}

// trackName picks the stable artifact name: the caller's output name, then
// the catalog display name. Empty keeps the engine's own name.
func (o *Orchestrator) trackName(ctx context.Context, req models.Request) string {
	if req.OutputFile != "" {
		return req.OutputFile
	}
	if o.namer == nil {
		return ""
	}

	ref, err := catalog.ParseURL(req.Source)
	if err != nil {
		return ""
	}
	name, err := o.namer.DisplayName(ctx, ref)
	if err != nil {
		o.logger.Debug("catalog name lookup failed", "ref", ref, "error", err)
		return ""
	}
	return name
}

func (o *Orchestrator) fileResult(path string) (*models.Result, error) {
	size, err := o.store.Finalize(path)
	if err != nil {
		return nil, err
	}
	return &models.Result{Path: path, Filename: filepath.Base(path), FileSize: size}, nil
}

// directoryResult finalizes a whole slot. The download filename is the
// caller's output name, the catalog name, or playlist_<task id>, as a zip.
func (o *Orchestrator) directoryResult(ctx context.Context, task models.Task, slot string) (*models.Result, error) {
	size, err := o.store.Finalize(slot)
	if err != nil {
		return nil, err
	}

	files, err := artifacts.Files(slot)
	if err != nil {
		return nil, err
	}

	name := task.Request.OutputFile
	if name == "" && o.namer != nil {
		if ref, err := catalog.ParseURL(task.Request.Source); err == nil {
			if n, err := o.namer.DisplayName(ctx, ref); err == nil {
				name = n
			}
		}
	}
	if name == "" {
		name = "playlist_" + task.ID
	}
	name = shared.SanitizeFilename(strings.TrimSuffix(name, ".zip")) + ".zip"

	return &models.Result{Path: slot, Filename: name, FileSize: size, Files: files, IsDir: true}, nil
}

func (o *Orchestrator) updateMetadata(ctx context.Context, req models.Request) (*models.Result, error) {
	files := make([]string, 0, len(req.FilePaths))
	for _, rel := range req.FilePaths {
		path, err := o.store.Resolve(rel)
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &models.TaskError{Category: models.CategoryNotFound, Message: fmt.Sprintf("file not found: %s", rel)}
		}
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, &models.TaskError{Category: models.CategoryInvalidRequest, Message: fmt.Sprintf("not a file: %s", rel)}
		}
		files = append(files, strings.TrimPrefix(path, o.store.Root()+string(filepath.Separator)))
	}

	root := o.store.Root()
	if err := o.invoke(ctx, func() error { return o.engine.Meta(ctx, root, files) }); err != nil {
		return nil, err
	}
	return &models.Result{Files: append([]string(nil), req.FilePaths...)}, nil
}

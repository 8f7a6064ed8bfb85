package tasks

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/desertthunder/dlx/internal/catalog"
	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/shared"
)

// Formats lists the audio containers the engine can produce.
var Formats = []string{"mp3", "flac", "ogg", "opus", "m4a", "wav"}

// DefaultSaveExt is appended to save files given without an extension.
const DefaultSaveExt = ".spotdl"

var bitrate = regexp.MustCompile(`^[0-9]{2,3}k$`)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shared.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Validate checks req against the rules for kind and returns it normalized:
// defaults applied, names sanitized. resolve maps update-metadata file paths
// into the managed directory and rejects escapes; it may be nil for other kinds.
func Validate(kind models.Kind, req models.Request, defaultFormat string, resolve func(string) (string, error)) (models.Request, error) {
	req = req.Clone()
	req.Source = strings.TrimSpace(req.Source)

	if !kind.Valid() {
		return req, invalid("unknown task kind %q", kind)
	}

	switch kind {
	case models.KindResolveLink:
		if _, err := catalog.ParseURL(req.Source); err != nil {
			return req, err
		}
	case models.KindDownloadTrack:
		ref, err := catalog.ParseURL(req.Source)
		if err != nil {
			return req, err
		}
		if ref.Kind != catalog.KindTrack {
			return req, invalid("download-track requires a track reference, got %s", ref.Kind)
		}
	case models.KindDownloadPlaylist:
		ref, err := catalog.ParseURL(req.Source)
		if err != nil {
			return req, err
		}
		if !ref.IsCollection() {
			return req, invalid("download-playlist requires a playlist, album or artist reference, got %s", ref.Kind)
		}
	case models.KindGetURLs, models.KindSaveMetadata, models.KindSyncPlaylist:
		if req.Source == "" {
			return req, invalid("query is required")
		}
	case models.KindUpdateMetadata:
		if len(req.FilePaths) == 0 {
			return req, invalid("file_paths must name at least one file")
		}
		if resolve == nil {
			return req, invalid("file paths cannot be resolved")
		}
		for i, p := range req.FilePaths {
			p = strings.TrimSpace(p)
			if _, err := resolve(p); err != nil {
				return req, err
			}
			req.FilePaths[i] = filepath.ToSlash(filepath.Clean(p))
		}
	}

	if usesFormat(kind) {
		if err := normalizeFormat(&req, defaultFormat); err != nil {
			return req, err
		}
	} else {
		req.Format, req.Quality = "", ""
	}

	if kind == models.KindSaveMetadata || kind == models.KindSyncPlaylist {
		if strings.TrimSpace(req.SaveFile) == "" {
			return req, invalid("save_file is required")
		}
		req.SaveFile = shared.SanitizeFilename(req.SaveFile)
		if filepath.Ext(req.SaveFile) == "" {
			req.SaveFile += DefaultSaveExt
		}
	} else {
		req.SaveFile = ""
	}

	if req.OutputFile != "" {
		if kind != models.KindDownloadTrack && kind != models.KindDownloadPlaylist {
			return req, invalid("output_file is not supported for %s", kind)
		}
		req.OutputFile = shared.SanitizeFilename(req.OutputFile)
	}

	if kind != models.KindUpdateMetadata {
		req.FilePaths = nil
	}
	return req, nil
}

func usesFormat(kind models.Kind) bool {
	switch kind {
	case models.KindResolveLink, models.KindDownloadTrack, models.KindDownloadPlaylist, models.KindSyncPlaylist:
		return true
	default:
		return false
	}
}

func normalizeFormat(req *models.Request, defaultFormat string) error {
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	if req.Format == "" {
		req.Format = defaultFormat
	}
	if req.Format == "" {
		req.Format = "mp3"
	}
	if !validFormat(req.Format) {
		return invalid("unsupported format %q (expected one of %s)", req.Format, strings.Join(Formats, ", "))
	}

	req.Quality = strings.ToLower(strings.TrimSpace(req.Quality))
	if req.Quality == "" {
		req.Quality = "best"
	}
	if req.Quality != "best" && !bitrate.MatchString(req.Quality) {
		return invalid("unsupported quality %q (expected best or a bitrate such as 320k)", req.Quality)
	}
	return nil
}

func validFormat(f string) bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

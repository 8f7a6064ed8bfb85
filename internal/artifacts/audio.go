package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/desertthunder/dlx/internal/shared"
)

var audioExts = map[string]bool{
	".mp3": true, ".flac": true, ".ogg": true, ".opus": true, ".m4a": true, ".wav": true,
}

// FindAudio returns the audio file the engine left in dir. Files with the
// requested format win; otherwise any audio file is accepted. When several
// match, the largest is returned.
func FindAudio(dir, format string) (string, error) {
	files, err := Files(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrMissingArtifact, err)
	}

	want := "." + strings.ToLower(format)
	var exact, other []string
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f))
		switch {
		case ext == want:
			exact = append(exact, f)
		case audioExts[ext]:
			other = append(other, f)
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = other
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no audio file was produced", shared.ErrMissingArtifact)
	}

	sizes := make(map[string]int64, len(candidates))
	for _, c := range candidates {
		if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(c))); err == nil {
			sizes[c] = info.Size()
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return sizes[candidates[i]] > sizes[candidates[j]] })
	return filepath.Join(dir, filepath.FromSlash(candidates[0])), nil
}

// Rename moves src to name inside the same directory and returns the new
// path. name is sanitized and keeps src's extension when it has none.
func Rename(src, name string) (string, error) {
	ext := filepath.Ext(src)
	name = shared.SanitizeFilename(name)
	if !strings.EqualFold(filepath.Ext(name), ext) {
		name += ext
	}

	dst := filepath.Join(filepath.Dir(src), name)
	if dst == src {
		return src, nil
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to name artifact: %w", err)
	}
	return dst, nil
}

// Package catalog recognizes Spotify catalog references and looks up the
// display names used to give downloaded artifacts stable, readable names.
package catalog

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/desertthunder/dlx/internal/shared"
)

// Kind is the type of catalog entity a reference points at.
type Kind string

const (
	KindTrack    Kind = "track"
	KindPlaylist Kind = "playlist"
	KindAlbum    Kind = "album"
	KindArtist   Kind = "artist"
)

// Ref identifies a catalog entity.
type Ref struct {
	Kind Kind
	ID   string
}

// IsCollection reports whether the reference groups several tracks.
func (r Ref) IsCollection() bool {
	return r.Kind == KindPlaylist || r.Kind == KindAlbum || r.Kind == KindArtist
}

// URI returns the spotify:kind:id form.
func (r Ref) URI() string {
	return fmt.Sprintf("spotify:%s:%s", r.Kind, r.ID)
}

// URL returns the canonical open.spotify.com form.
func (r Ref) URL() string {
	return fmt.Sprintf("https://open.spotify.com/%s/%s", r.Kind, r.ID)
}

func (r Ref) String() string { return r.URI() }

var idPattern = regexp.MustCompile(`^[A-Za-z0-9]{10,32}$`)

func parseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindTrack, KindPlaylist, KindAlbum, KindArtist:
		return k, true
	default:
		return "", false
	}
}

// ParseURL recognizes open.spotify.com URLs (including localized /intl-xx/
// paths and query strings) and spotify:kind:id URIs.
func ParseURL(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, fmt.Errorf("%w: empty catalog reference", shared.ErrInvalidRequest)
	}

	if rest, ok := strings.CutPrefix(raw, "spotify:"); ok {
		kind, id, found := strings.Cut(rest, ":")
		k, known := parseKind(kind)
		if !found || !known || !idPattern.MatchString(id) {
			return Ref{}, fmt.Errorf("%w: unrecognized catalog URI %q", shared.ErrInvalidRequest, raw)
		}
		return Ref{Kind: k, ID: id}, nil
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host != "open.spotify.com" {
		return Ref{}, fmt.Errorf("%w: not a catalog URL: %q", shared.ErrInvalidRequest, raw)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && strings.HasPrefix(segments[0], "intl-") {
		segments = segments[1:]
	}
	if len(segments) < 2 {
		return Ref{}, fmt.Errorf("%w: incomplete catalog URL: %q", shared.ErrInvalidRequest, raw)
	}

	k, known := parseKind(segments[0])
	if !known || !idPattern.MatchString(segments[1]) {
		return Ref{}, fmt.Errorf("%w: unrecognized catalog URL: %q", shared.ErrInvalidRequest, raw)
	}
	return Ref{Kind: k, ID: segments[1]}, nil
}

// IsCatalogReference reports whether s looks like a catalog URL or URI rather than a free-text query.
func IsCatalogReference(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "spotify:") || strings.HasPrefix(s, "https://open.spotify.com/") || strings.HasPrefix(s, "http://open.spotify.com/")
}

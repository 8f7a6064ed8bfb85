package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/desertthunder/dlx/internal/shared"
)

// Link is a time-bounded reference to an artifact.
type Link struct {
	Token     string
	Path      string
	Filename  string
	ExpiresAt time.Time
	SingleUse bool

	slot string
}

// Expose issues a link to the finalized artifact at path that stays valid for
// ttl. The artifact is pinned against the sweep for as long as the link lives.
func (s *Store) Expose(path string, ttl time.Duration) (Link, error) {
	name, err := s.slotName(path)
	if err != nil {
		return Link{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Link{}, fmt.Errorf("%w: %v", shared.ErrMissingArtifact, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sl, ok := s.slots[name]; ok && sl.finalizedAt.IsZero() {
		return Link{}, fmt.Errorf("%w: artifact is still being written", shared.ErrNotCompleted)
	}

	filename := filepath.Base(path)
	if info.IsDir() {
		filename += ".zip"
	}

	link := Link{
		Token:     shared.GenerateID(),
		Path:      path,
		Filename:  filename,
		ExpiresAt: s.now().Add(ttl),
		SingleUse: s.singleUse,
		slot:      name,
	}
	s.links[link.Token] = &link
	s.metrics.LinkIssued()
	return link, nil
}

// Open validates token and returns its link. Single-use links are consumed
// by a successful open.
func (s *Store) Open(token string) (Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[token]
	if !ok {
		return Link{}, shared.ErrLinkExpired
	}

	if !s.now().Before(link.ExpiresAt) {
		delete(s.links, token)
		return Link{}, shared.ErrLinkExpired
	}

	if _, err := os.Stat(link.Path); err != nil {
		delete(s.links, token)
		return Link{}, fmt.Errorf("%w: %v", shared.ErrMissingArtifact, err)
	}

	if link.SingleUse {
		delete(s.links, token)
		// Keep the artifact around long enough to finish streaming it.
		if sl, ok := s.slots[link.slot]; ok && link.ExpiresAt.After(sl.pinnedUntil) {
			sl.pinnedUntil = link.ExpiresAt
		}
	}
	return *link, nil
}

// Revoke forgets token.
func (s *Store) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, token)
}

// Links returns the number of live links.
func (s *Store) Links() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

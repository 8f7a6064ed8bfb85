package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dlx/internal/metrics"
	"github.com/desertthunder/dlx/internal/shared"
)

// Purge reasons reported to metrics and logs.
const (
	ReasonDelete  = "delete"
	ReasonExpired = "expired"
	ReasonFailed  = "failed"
)

// slot is the bookkeeping for one reserved top-level entry of the managed directory.
type slot struct {
	finalizedAt time.Time // zero while the producing task is still writing
	pinnedUntil time.Time
}

// Store owns the managed output directory.
//
// Every artifact lives inside a slot: a uniquely named directory directly
// under root created by [Store.Reserve]. Slots that are still being written are
// never swept; finalized slots are swept once older than the TTL unless a
// claim or live link pins them.
type Store struct {
	root      string
	ttl       time.Duration
	singleUse bool
	now       func() time.Time
	logger    *log.Logger
	metrics   *metrics.Collector

	mu    sync.Mutex
	slots map[string]*slot // keyed by slot directory name
	links map[string]*Link // keyed by token
}

// Option configures a [Store].
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records purges and issued links on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Store) { s.metrics = m }
}

// WithSingleUseLinks makes every link valid for one successful open.
func WithSingleUseLinks(single bool) Option {
	return func(s *Store) { s.singleUse = single }
}

// NewStore creates the managed directory at root if needed.
func NewStore(root string, ttl time.Duration, logger *log.Logger, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	s := &Store{
		root:   abs,
		ttl:    ttl,
		now:    time.Now,
		logger: shared.WithLogger(logger, "component", "artifacts"),
		slots:  make(map[string]*slot),
		links:  make(map[string]*Link),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute managed directory.
func (s *Store) Root() string { return s.root }

// TTL returns the unclaimed lifetime of finalized artifacts.
func (s *Store) TTL() time.Duration { return s.ttl }

// Reserve creates a new empty slot directory whose name starts with the
// sanitized hint and returns its path. Two calls never return the same path.
func (s *Store) Reserve(hint string) (string, error) {
	prefix := shared.SanitizeFilename(hint)
	if len(prefix) > 64 {
		prefix = strings.ToValidUTF8(prefix[:64], "")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := os.MkdirTemp(s.root, prefix+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to reserve artifact slot: %w", err)
	}
	s.slots[filepath.Base(dir)] = &slot{}
	return dir, nil
}

// Finalize confirms that path holds the artifact and returns its size in
// bytes. Directories report the total size of their regular files and must
// contain at least one. Finalizing starts the slot's expiry clock.
func (s *Store) Finalize(path string) (int64, error) {
	name, err := s.slotName(path)
	if err != nil {
		return 0, err
	}

	size, err := artifactSize(path)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[name]
	if !ok {
		sl = &slot{}
		s.slots[name] = sl
	}
	sl.finalizedAt = s.now()
	return size, nil
}

// Purge removes the slot containing path. Purging an absent artifact is not an error.
func (s *Store) Purge(path, reason string) error {
	name, err := s.slotName(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(name, reason)
}

func (s *Store) purgeLocked(name, reason string) error {
	dir := filepath.Join(s.root, name)
	_, statErr := os.Lstat(dir)

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to purge artifact: %w", err)
	}

	delete(s.slots, name)
	for token, link := range s.links {
		if link.slot == name {
			delete(s.links, token)
		}
	}

	if statErr == nil {
		s.metrics.ArtifactPurged(reason)
		s.logger.Debug("purged artifact", "slot", name, "reason", reason)
	}
	return nil
}

// Claim pins the slot containing path against the expiry sweep until until.
// Claims only ever extend a pin.
func (s *Store) Claim(path string, until time.Time) error {
	name, err := s.slotName(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[name]
	if !ok {
		if _, err := os.Lstat(filepath.Join(s.root, name)); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrMissingArtifact, err)
		}
		sl = &slot{finalizedAt: s.now()}
		s.slots[name] = sl
	}
	if until.After(sl.pinnedUntil) {
		sl.pinnedUntil = until
	}
	return nil
}

// Exists reports whether path is present in the managed directory.
func (s *Store) Exists(path string) bool {
	if _, err := s.slotName(path); err != nil {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// slotName returns the top-level entry of root that contains path.
func (s *Store) slotName(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path outside artifact dir", shared.ErrInvalidRequest)
	}

	name, _, _ := strings.Cut(rel, string(filepath.Separator))
	return name, nil
}

// Resolve joins rel onto root, rejecting anything that escapes it.
func (s *Store) Resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q must be a path relative to the artifact dir", shared.ErrInvalidRequest, rel)
	}

	path := filepath.Join(s.root, filepath.Clean(rel))
	if _, err := s.slotName(path); err != nil {
		return "", fmt.Errorf("%w: %q escapes the artifact dir", shared.ErrInvalidRequest, rel)
	}
	return path, nil
}

// SweepReport summarizes one expiry pass.
type SweepReport struct {
	Scanned      int
	Purged       int
	InFlight     int
	Pinned       int
	ExpiredLinks int
	Errors       []error
}

// Sweep purges every finalized or untracked slot older than the TTL that is
// neither pinned by a claim nor referenced by a live link, and forgets
// expired links.
func (s *Store) Sweep(now time.Time) SweepReport {
	var report SweepReport

	s.mu.Lock()
	defer s.mu.Unlock()

	for token, link := range s.links {
		if !now.Before(link.ExpiresAt) {
			delete(s.links, token)
			report.ExpiredLinks++
		}
	}

	linked := make(map[string]bool, len(s.links))
	for _, link := range s.links {
		linked[link.slot] = true
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("failed to scan artifact dir: %w", err))
		return report
	}

	for _, entry := range entries {
		name := entry.Name()
		report.Scanned++

		born, ok := s.bornLocked(name, entry)
		if !ok {
			report.InFlight++
			continue
		}

		if sl := s.slots[name]; linked[name] || (sl != nil && now.Before(sl.pinnedUntil)) {
			report.Pinned++
			continue
		}

		if now.Before(born.Add(s.ttl)) {
			continue
		}

		if err := s.purgeLocked(name, ReasonExpired); err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Purged++
	}

	if report.Purged > 0 || report.ExpiredLinks > 0 || len(report.Errors) > 0 {
		s.logger.Info("artifact sweep", "scanned", report.Scanned, "purged", report.Purged,
			"expired_links", report.ExpiredLinks, "errors", len(report.Errors))
	}
	return report
}

// bornLocked returns when the expiry clock of entry started. In-flight slots report false.
func (s *Store) bornLocked(name string, entry fs.DirEntry) (time.Time, bool) {
	if sl, tracked := s.slots[name]; tracked {
		if sl.finalizedAt.IsZero() {
			return time.Time{}, false
		}
		return sl.finalizedAt, true
	}

	info, err := entry.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Files lists regular files under dir relative to it, sorted.
func Files(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func artifactSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", shared.ErrMissingArtifact, filepath.Base(path))
	}
	if err != nil {
		return 0, err
	}

	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	var count int
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: %s is empty", shared.ErrMissingArtifact, filepath.Base(path))
	}
	return total, nil
}

// Package store keeps the client-side cache of projects.
//
// The cache is an ordered sequence of project.Details with unique names.
// RefreshAll replaces it wholesale; RefreshOne and the project actions merge
// single entries by name. Refresh failures are logged and recorded rather
// than returned, so views can call them without handling errors.
//
// Every operation takes a sequence number when issued. A completion is
// applied only if nothing newer has already landed for the data it touches,
// so a slow bulk refresh cannot overwrite fresher per-project state.
package store

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/hpungsan/deckhand/internal/gateway"
	"github.com/hpungsan/deckhand/internal/project"
)

// API is the part of the gateway the store calls.
type API interface {
	ListProjects(ctx context.Context) ([]project.Project, error)
	GetProject(ctx context.Context, name string) (project.Details, error)
	ProjectAction(ctx context.Context, action, name string) (project.Details, error)
	DeleteProject(ctx context.Context, name string) error
	ReadFile(ctx context.Context, name, file string) (project.File, error)
	WriteFile(ctx context.Context, name, file, content string) (project.File, error)
	DeleteFile(ctx context.Context, name, file string) error
}

// Snapshot is a copy of the cache handed to subscribers.
type Snapshot struct {
	// Version increases with every published change. Subscribers running
	// on different goroutines can use it to drop out-of-order snapshots.
	Version  uint64
	Projects []project.Details
	Err      error
}

type entry struct {
	details project.Details
	seq     uint64
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// Store is the project cache. It is safe for concurrent use.
type Store struct {
	api    API
	logger *slog.Logger

	mu         sync.Mutex
	entries    []entry
	seq        uint64
	bulkSeq    uint64
	tombstones map[string]uint64
	lastErr    error
	version    uint64
	subs       []subscriber
	nextSubID  int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty store backed by api.
func New(api API, opts ...Option) *Store {
	s := &Store{
		api:        api,
		logger:     slog.Default(),
		tombstones: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) issue() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// RefreshAll reloads the whole cache from the project list. Entries carry
// empty file lists since the list endpoint does not return files. On
// failure the cache is cleared and the error is logged, not returned.
func (s *Store) RefreshAll(ctx context.Context) {
	_ = s.RefreshAllErr(ctx)
}

// RefreshAllErr is RefreshAll returning this call's own outcome, unaffected
// by refreshes other callers run concurrently.
func (s *Store) RefreshAllErr(ctx context.Context) error {
	seq := s.issue()
	projects, err := s.api.ListProjects(ctx)

	s.apply(func() bool {
		if seq < s.bulkSeq {
			s.logger.Debug("discarding stale project list", "seq", seq, "bulk_seq", s.bulkSeq)
			return false
		}

		if err != nil {
			s.logger.Warn("refresh projects failed; cache cleared", "error", err)
			s.lastErr = err
			s.entries = s.newerThan(seq)
			s.resetBulk(seq)
			return true
		}

		next := make([]entry, 0, len(projects))
		seen := make(map[string]bool, len(projects))
		for _, p := range projects {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			if i := s.index(p.Name); i >= 0 && s.entries[i].seq > seq {
				next = append(next, s.entries[i])
				continue
			}
			if s.tombstones[p.Name] > seq {
				continue
			}
			next = append(next, entry{details: project.FromProject(p), seq: seq})
		}
		// Entries created or refreshed after the list was requested.
		for _, e := range s.entries {
			if e.seq > seq && !seen[e.details.Name] {
				next = append(next, e)
			}
		}

		s.entries = next
		s.lastErr = nil
		s.resetBulk(seq)
		return true
	})
	return err
}

// RefreshOne reloads a single project and merges it into the cache by
// name, appending it when absent. On failure the cache is left as is and
// the error is logged, not returned.
func (s *Store) RefreshOne(ctx context.Context, name string) {
	_ = s.RefreshOneErr(ctx, name)
}

// RefreshOneErr is RefreshOne returning this call's own outcome.
func (s *Store) RefreshOneErr(ctx context.Context, name string) error {
	seq := s.issue()
	d, err := s.api.GetProject(ctx, name)

	s.apply(func() bool {
		if err != nil {
			s.logger.Warn("refresh project failed", "name", name, "error", err)
			s.lastErr = err
			return true
		}
		s.lastErr = nil
		s.upsert(seq, d)
		return true
	})
	return err
}

// GetByName returns a copy of the cached project with that name.
func (s *Store) GetByName(name string) (project.Details, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(name); i >= 0 {
		return s.entries[i].details.Clone(), true
	}
	return project.Details{}, false
}

// Projects returns a copy of the cache in order.
func (s *Store) Projects() []project.Details {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectsLocked()
}

// LastError returns the failure recorded by the most recently completed
// refresh from any caller, or nil if it succeeded. Callers wanting the
// outcome of their own refresh use RefreshAllErr or RefreshOneErr.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Snapshot returns the current cache state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every change to the
// cache. Calls happen on the goroutine that completed the change, outside
// the store's lock. The returned func removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
		})
	}
}

// Start starts a project and merges the result.
func (s *Store) Start(ctx context.Context, name string) (project.Details, error) {
	return s.action(ctx, gateway.ActionStart, name)
}

// Stop stops a project and merges the result.
func (s *Store) Stop(ctx context.Context, name string) (project.Details, error) {
	return s.action(ctx, gateway.ActionStop, name)
}

// Restart restarts a project and merges the result.
func (s *Store) Restart(ctx context.Context, name string) (project.Details, error) {
	return s.action(ctx, gateway.ActionRestart, name)
}

// Create creates an empty project and adds it to the cache.
func (s *Store) Create(ctx context.Context, name string) (project.Details, error) {
	return s.action(ctx, gateway.ActionCreate, name)
}

func (s *Store) action(ctx context.Context, action, name string) (project.Details, error) {
	seq := s.issue()
	d, err := s.api.ProjectAction(ctx, action, name)
	if err != nil {
		return project.Details{}, err
	}
	s.apply(func() bool {
		s.upsert(seq, d)
		return true
	})
	s.logger.Info("project action", "action", action, "name", name, "status", d.Status)
	return d.Clone(), nil
}

// Delete removes a project and drops it from the cache.
func (s *Store) Delete(ctx context.Context, name string) error {
	seq := s.issue()
	if err := s.api.DeleteProject(ctx, name); err != nil {
		return err
	}
	s.apply(func() bool {
		s.tombstones[name] = seq
		if i := s.index(name); i >= 0 && s.entries[i].seq < seq {
			s.entries = slices.Delete(s.entries, i, i+1)
		}
		return true
	})
	s.logger.Info("project deleted", "name", name)
	return nil
}

// ReadFile fetches a project file. The cache is not touched.
func (s *Store) ReadFile(ctx context.Context, name, file string) (project.File, error) {
	return s.api.ReadFile(ctx, name, file)
}

// WriteFile stores a project file and refreshes the project's file list.
func (s *Store) WriteFile(ctx context.Context, name, file, content string) (project.File, error) {
	f, err := s.api.WriteFile(ctx, name, file, content)
	if err != nil {
		return project.File{}, err
	}
	s.RefreshOne(ctx, name)
	return f, nil
}

// DeleteFile removes a project file and refreshes the project's file list.
func (s *Store) DeleteFile(ctx context.Context, name, file string) error {
	if err := s.api.DeleteFile(ctx, name, file); err != nil {
		return err
	}
	s.RefreshOne(ctx, name)
	return nil
}

// apply runs fn under the lock and, if it reports a change, publishes a
// snapshot to subscribers after unlocking.
func (s *Store) apply(fn func() bool) {
	s.mu.Lock()
	if !fn() {
		s.mu.Unlock()
		return
	}
	s.version++
	snap := s.snapshotLocked()
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(snap)
	}
}

// upsert overwrites the entry with d's name in place, or appends it.
// Caller holds s.mu.
func (s *Store) upsert(seq uint64, d project.Details) {
	if i := s.index(d.Name); i >= 0 {
		if s.entries[i].seq > seq {
			s.logger.Debug("discarding stale project", "name", d.Name, "seq", seq)
			return
		}
		s.entries[i] = entry{details: d.Clone(), seq: seq}
		return
	}
	if seq < s.bulkSeq || s.tombstones[d.Name] > seq {
		s.logger.Debug("discarding stale project", "name", d.Name, "seq", seq)
		return
	}
	s.entries = append(s.entries, entry{details: d.Clone(), seq: seq})
}

func (s *Store) index(name string) int {
	return slices.IndexFunc(s.entries, func(e entry) bool { return e.details.Name == name })
}

func (s *Store) newerThan(seq uint64) []entry {
	var out []entry
	for _, e := range s.entries {
		if e.seq > seq {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) resetBulk(seq uint64) {
	s.bulkSeq = seq
	for name, t := range s.tombstones {
		if t <= seq {
			delete(s.tombstones, name)
		}
	}
}

func (s *Store) projectsLocked() []project.Details {
	out := make([]project.Details, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.details.Clone()
	}
	return out
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Version:  s.version,
		Projects: s.projectsLocked(),
		Err:      s.lastErr,
	}
}

// Package session keeps the files an anonymous user is composing into a
// print job. Sessions live in memory and are evicted after a period of
// inactivity by a periodic sweep.
package session

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/shared"
)

const (
	// IDBytes is the entropy of a session id; ids are hex encoded.
	IDBytes = 16

	DefaultTimeout       = 30 * time.Minute
	DefaultSweepInterval = 10 * time.Minute

	// emptyGrace keeps a freshly created session alive until its first
	// file arrives.
	emptyGrace = time.Minute
)

type FileEntry struct {
	Filename          string    `json:"filename"`
	OriginalName      string    `json:"originalName"`
	StoragePath       string    `json:"storagePath"`
	SizeBytes         int64     `json:"size"`
	MimeType          string    `json:"mimeType"`
	UploadedAt        time.Time `json:"uploadedAt"`
	ProcessedFilename string    `json:"processedFilename,omitempty"`
}

type Session struct {
	ID                 string      `json:"id"`
	CreatedAt          time.Time   `json:"createdAt"`
	LastActivity       time.Time   `json:"lastActivity"`
	Files              []FileEntry `json:"files"`
	MergedArtifactName string      `json:"mergedArtifactName,omitempty"`
}

func (s *Session) clone() Session {
	c := *s
	c.Files = append([]FileEntry(nil), s.Files...)
	return c
}

func (s *Session) fileIndex(filename string) int {
	for i := range s.Files {
		if s.Files[i].Filename == filename {
			return i
		}
	}
	return -1
}

// CleanupFunc releases whatever a removed session left in storage. It may be
// called for a session whose objects are already gone and must tolerate it.
type CleanupFunc func(ctx context.Context, s Session) error

type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	timeout time.Duration
	cleanup CleanupFunc
	logger  logging.Logger
	now     func() time.Time
}

func NewStore(timeout time.Duration, cleanup CleanupFunc, logger logging.Logger) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cleanup == nil {
		cleanup = func(context.Context, Session) error { return nil }
	}
	return &Store{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		cleanup:  cleanup,
		logger:   logger.With("module", "session_store"),
		now:      time.Now,
	}
}

// Create registers an empty session under a fresh random id.
func (st *Store) Create() (string, error) {
	id, err := shared.MakeRandHexString(IDBytes)
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}

	now := st.now()

	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[id] = &Session{ID: id, CreatedAt: now, LastActivity: now}
	return id, nil
}

// Get returns a copy of the session.
func (st *Store) Get(id string) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// AddFile appends f, renaming it when the filename is already taken in the
// session. The stored entry is returned.
func (st *Store) AddFile(id string, f FileEntry) (FileEntry, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return FileEntry{}, common.ErrSessionNotFound
	}

	f.Filename = uniqueName(s, f.Filename)
	if f.UploadedAt.IsZero() {
		f.UploadedAt = st.now()
	}
	s.Files = append(s.Files, f)
	s.LastActivity = st.now()
	return f, nil
}

// ReserveFile is AddFile for entries whose storage location derives from
// the final, unique filename: keyFor receives that name and its result is
// stored as StoragePath.
func (st *Store) ReserveFile(id string, f FileEntry, keyFor func(filename string) string) (FileEntry, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return FileEntry{}, common.ErrSessionNotFound
	}

	f.Filename = uniqueName(s, f.Filename)
	f.StoragePath = keyFor(f.Filename)
	if f.UploadedAt.IsZero() {
		f.UploadedAt = st.now()
	}
	s.Files = append(s.Files, f)
	s.LastActivity = st.now()
	return f, nil
}

// UpdateFile applies fn to the stored entry of filename. fn must not keep
// the pointer.
func (st *Store) UpdateFile(id, filename string, fn func(*FileEntry)) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return common.ErrSessionNotFound
	}

	i := s.fileIndex(filename)
	if i < 0 {
		return common.ErrFileNotFound
	}
	fn(&s.Files[i])
	s.LastActivity = st.now()
	return nil
}

// RemoveFile drops filename from the session and returns the removed entry
// together with the number of files left.
func (st *Store) RemoveFile(id, filename string) (FileEntry, int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return FileEntry{}, 0, common.ErrSessionNotFound
	}

	i := s.fileIndex(filename)
	if i < 0 {
		return FileEntry{}, len(s.Files), common.ErrFileNotFound
	}

	removed := s.Files[i]
	s.Files = append(s.Files[:i], s.Files[i+1:]...)
	s.LastActivity = st.now()
	return removed, len(s.Files), nil
}

// SetProcessed records the derivative produced for filename.
func (st *Store) SetProcessed(id, filename, processed string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return common.ErrSessionNotFound
	}

	i := s.fileIndex(filename)
	if i < 0 {
		return common.ErrFileNotFound
	}

	s.Files[i].ProcessedFilename = processed
	s.LastActivity = st.now()
	return nil
}

func (st *Store) SetMergedArtifact(id, name string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return common.ErrSessionNotFound
	}
	s.MergedArtifactName = name
	s.LastActivity = st.now()
	return nil
}

func (st *Store) Touch(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return common.ErrSessionNotFound
	}
	s.LastActivity = st.now()
	return nil
}

// Exists reports whether the session is still in the table.
func (st *Store) Exists(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	return ok
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Remove deletes the session and runs cleanup for it. Removing an unknown
// session is a no-op.
func (st *Store) Remove(ctx context.Context, id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	if !ok {
		return nil
	}
	return st.cleanup(ctx, s.clone())
}

// Sweep evicts sessions idle for longer than the timeout, and sessions left
// without files. It returns the number of evicted sessions.
func (st *Store) Sweep(ctx context.Context) int {
	now := st.now()

	st.mu.Lock()
	var expired []Session
	for id, s := range st.sessions {
		idle := now.Sub(s.LastActivity)
		if idle > st.timeout || (len(s.Files) == 0 && idle > emptyGrace) {
			expired = append(expired, s.clone())
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	// cleanup runs outside the lock; the sessions are already unreachable
	for _, s := range expired {
		if err := st.cleanup(ctx, s); err != nil {
			st.logger.Warn(ctx, "session cleanup failed", "session_id", s.ID, "error", err)
		}
	}

	if len(expired) > 0 {
		st.logger.Info(ctx, "expired sessions removed", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (st *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func uniqueName(s *Session, name string) string {
	if s.fileIndex(name) < 0 {
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", base, i, ext)
		if s.fileIndex(candidate) < 0 {
			return candidate
		}
	}
}

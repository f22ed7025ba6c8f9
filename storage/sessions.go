package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"glimpse/model"
)

const (
	sessionExt       = ".json"
	tempSuffix       = ".tmp"
	currentSessionID = "current_session.id"

	// Temp files younger than this may belong to a write in flight.
	staleTempAge = time.Hour
)

// Session is one persisted conversation.
type Session struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ProviderID   string          `json:"provider_id"`
	ModelID      string          `json:"model_id"`
	IsSaved      bool            `json:"is_saved"`
	Summary      string          `json:"summary,omitempty"`
	Messages     []model.Message `json:"messages"`
	MessageCount int             `json:"message_count"`
}

// UnmarshalJSON coerces is_saved through Truthy and recomputes MessageCount
// from the decoded messages.
func (s *Session) UnmarshalJSON(data []byte) error {
	type alias Session
	aux := struct {
		*alias
		IsSaved any `json:"is_saved"`
	}{alias: (*alias)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	s.IsSaved = Truthy(aux.IsSaved)
	s.MessageCount = len(s.Messages)
	return nil
}

// SessionStorage handles session persistence. Each session is one JSON file
// under <dataDir>/sessions, replaced atomically on every write.
type SessionStorage struct {
	sessionsDir string
	locks       *keyedMutex
	logger      *zap.Logger
	now         func() time.Time
}

// NewSessionStorage creates a new session storage
func NewSessionStorage(dataDir string, logger *zap.Logger) (*SessionStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sessionsDir := filepath.Join(dataDir, "sessions")

	// 0700: sessions hold conversation history
	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w: %w", model.ErrPersistenceIO, err)
	}

	return &SessionStorage{
		sessionsDir: sessionsDir,
		locks:       newKeyedMutex(),
		logger:      logger.With(zap.String("component", "sessions")),
		now:         time.Now,
	}, nil
}

// Dir returns the directory holding the session files.
func (s *SessionStorage) Dir() string {
	return s.sessionsDir
}

// Save writes a session to disk and returns it.
//
// A missing ID is assigned, CreatedAt is set on first save, UpdatedAt is
// bumped and MessageCount recomputed. Messages without an ID or timestamp get
// one.
func (s *SessionStorage) Save(session *Session) (*Session, error) {
	if session == nil {
		return nil, fmt.Errorf("failed to save session: nil session: %w", model.ErrPersistenceIO)
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if !validID(session.ID) {
		return nil, fmt.Errorf("failed to save session: invalid id %q: %w", session.ID, model.ErrPersistenceIO)
	}

	unlock := s.locks.Lock(session.ID)
	defer unlock()

	if err := s.write(session, true); err != nil {
		return nil, err
	}
	return session, nil
}

// Load loads a session from disk
func (s *SessionStorage) Load(id string) (*Session, error) {
	if !validID(id) {
		return nil, fmt.Errorf("session %q: %w", id, model.ErrSessionNotFound)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	return s.read(id)
}

// Update runs fn on the stored session under that session's lock and writes
// the result back. Concurrent updates of the same id are serialized; an error
// from fn aborts the write.
func (s *SessionStorage) Update(id string, fn func(*Session) error) (*Session, error) {
	return s.mutate(id, true, fn)
}

// AppendMessages appends turns to a session.
func (s *SessionStorage) AppendMessages(id string, msgs ...model.Message) (*Session, error) {
	return s.Update(id, func(session *Session) error {
		session.Messages = append(session.Messages, msgs...)
		return nil
	})
}

// Rename updates the title of a session
func (s *SessionStorage) Rename(id, title string) (*Session, error) {
	return s.mutate(id, false, func(session *Session) error {
		session.Title = strings.TrimSpace(title)
		return nil
	})
}

// ToggleSaved flips the saved flag.
func (s *SessionStorage) ToggleSaved(id string) (*Session, error) {
	return s.mutate(id, false, func(session *Session) error {
		session.IsSaved = !session.IsSaved
		return nil
	})
}

// SetSaved sets the saved flag.
func (s *SessionStorage) SetSaved(id string, saved bool) (*Session, error) {
	return s.mutate(id, false, func(session *Session) error {
		session.IsSaved = saved
		return nil
	})
}

// Delete deletes a session from disk
func (s *SessionStorage) Delete(id string) error {
	if !validID(id) {
		return fmt.Errorf("session %q: %w", id, model.ErrSessionNotFound)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	return s.remove(id)
}

// ListAll returns every readable session, newest first. Unreadable files are
// logged and skipped.
func (s *SessionStorage) ListAll() ([]*Session, error) {
	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w: %w", model.ErrPersistenceIO, err)
	}

	sessions := make([]*Session, 0, len(entries))
	for _, entry := range entries {
		id, ok := sessionIDFromName(entry)
		if !ok {
			continue
		}

		session, err := s.Load(id)
		if err != nil {
			if !errors.Is(err, model.ErrSessionNotFound) {
				s.logger.Warn("skipping unreadable session", zap.String("session_id", id), zap.Error(err))
			}
			continue
		}
		sessions = append(sessions, session)
	}

	sortNewestFirst(sessions)
	return sessions, nil
}

// Search returns sessions whose title or any message text contains query,
// ignoring case. An empty query returns ListAll.
func (s *SessionStorage) Search(query string) ([]*Session, error) {
	all, err := s.ListAll()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return all, nil
	}

	matches := make([]*Session, 0, len(all))
	for _, session := range all {
		if sessionContains(session, query) {
			matches = append(matches, session)
		}
	}
	return matches, nil
}

// CleanupOld deletes sessions not updated within maxAgeDays and returns how
// many were removed. Saved sessions are kept when excludeSaved is set.
// Stray temp files left by interrupted writes are removed too. A
// non-positive maxAgeDays disables retention.
func (s *SessionStorage) CleanupOld(maxAgeDays int, excludeSaved bool) (int, error) {
	s.removeStaleTemps()

	if maxAgeDays <= 0 {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -maxAgeDays)

	sessions, err := s.ListAll()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, candidate := range sessions {
		if !expired(candidate, cutoff, excludeSaved) {
			continue
		}

		ok, err := s.deleteIfExpired(candidate.ID, cutoff, excludeSaved)
		if err != nil {
			s.logger.Warn("cleanup failed", zap.String("session_id", candidate.ID), zap.Error(err))
			continue
		}
		if ok {
			deleted++
		}
	}

	if deleted > 0 {
		s.logger.Info("removed old sessions", zap.Int("count", deleted), zap.Int("max_age_days", maxAgeDays))
	}
	return deleted, nil
}

// deleteIfExpired re-checks a session under its lock so a concurrent update
// that made it fresh (or saved) wins over the cleanup.
func (s *SessionStorage) deleteIfExpired(id string, cutoff time.Time, excludeSaved bool) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.read(id)
	if errors.Is(err, model.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !expired(current, cutoff, excludeSaved) {
		return false, nil
	}

	if err := s.remove(id); err != nil {
		return false, err
	}
	return true, nil
}

func expired(session *Session, cutoff time.Time, excludeSaved bool) bool {
	if excludeSaved && session.IsSaved {
		return false
	}
	return session.UpdatedAt.Before(cutoff)
}

// SaveCurrentSessionID saves the ID of the current session
func (s *SessionStorage) SaveCurrentSessionID(id string) error {
	path := filepath.Join(filepath.Dir(s.sessionsDir), currentSessionID)
	if err := writeFileAtomic(path, []byte(id), 0600); err != nil {
		return fmt.Errorf("failed to save current session id: %w: %w", model.ErrPersistenceIO, err)
	}
	return nil
}

// LoadCurrentSessionID loads the ID of the last active session. It returns
// an empty string when none was recorded.
func (s *SessionStorage) LoadCurrentSessionID() (string, error) {
	path := filepath.Join(filepath.Dir(s.sessionsDir), currentSessionID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read current session id: %w: %w", model.ErrPersistenceIO, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ExportToJSON exports a session to a JSON file at the specified path
func (s *SessionStorage) ExportToJSON(id string, exportPath string) error {
	session, err := s.Load(id)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w: %w", model.ErrPersistenceIO, err)
	}

	// Exports contain conversation history, same permissions as the store.
	if err := writeFileAtomic(exportPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write export: %w: %w", model.ErrPersistenceIO, err)
	}
	return nil
}

func (s *SessionStorage) mutate(id string, touch bool, fn func(*Session) error) (*Session, error) {
	if !validID(id) {
		return nil, fmt.Errorf("session %q: %w", id, model.ErrSessionNotFound)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if err := fn(session); err != nil {
		return nil, err
	}
	session.ID = id

	if err := s.write(session, touch); err != nil {
		return nil, err
	}
	return session, nil
}

// read and write expect the caller to hold the id lock.
func (s *SessionStorage) read(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w: %w", model.ErrPersistenceIO, err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w: %w", id, model.ErrPersistenceIO, err)
	}
	if session.ID == "" {
		session.ID = id
	}
	return &session, nil
}

func (s *SessionStorage) write(session *Session, touch bool) error {
	now := s.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if touch || session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}
	if session.UpdatedAt.Before(session.CreatedAt) {
		session.UpdatedAt = session.CreatedAt
	}

	for i := range session.Messages {
		if session.Messages[i].ID == "" {
			session.Messages[i].ID = uuid.New().String()
		}
		if session.Messages[i].Timestamp.IsZero() {
			session.Messages[i].Timestamp = now
		}
	}
	session.MessageCount = len(session.Messages)

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w: %w", model.ErrPersistenceIO, err)
	}

	// 0600: session files contain sensitive conversation history
	if err := writeFileAtomic(s.path(session.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w: %w", model.ErrPersistenceIO, err)
	}

	s.logger.Debug("session written",
		zap.String("session_id", session.ID),
		zap.Int("message_count", session.MessageCount))
	return nil
}

func (s *SessionStorage) remove(id string) error {
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session %s: %w", id, model.ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete session file: %w: %w", model.ErrPersistenceIO, err)
	}
	return nil
}

func (s *SessionStorage) removeStaleTemps() {
	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !isTempName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || s.now().Sub(info.ModTime()) < staleTempAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.sessionsDir, entry.Name())); err == nil {
			s.logger.Debug("removed stray temp file", zap.String("file", entry.Name()))
		}
	}
}

func (s *SessionStorage) path(id string) string {
	return filepath.Join(s.sessionsDir, id+sessionExt)
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path. Readers see either the old or the new file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*"+tempSuffix)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func sessionIDFromName(entry fs.DirEntry) (string, bool) {
	name := entry.Name()
	if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, sessionExt) {
		return "", false
	}
	id := strings.TrimSuffix(name, sessionExt)
	return id, validID(id)
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix)
}

// validID rejects ids that would escape the sessions directory.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}

func sessionContains(session *Session, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(session.Title), lowerQuery) {
		return true
	}
	for _, msg := range session.Messages {
		if strings.Contains(strings.ToLower(msg.Text), lowerQuery) {
			return true
		}
	}
	return false
}

func sortNewestFirst(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// SanitizeFilename removes or replaces characters that are invalid in filenames
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-", "\"", "-",
		"<", "-", ">", "-", "|", "-", " ", "-", "\n", "-", "\r", "-",
	)
	name = replacer.Replace(name)

	name = strings.Trim(name, "-.")
	name = truncateRunes(name, 50)

	if name == "" {
		name = "session"
	}
	return name
}

// GenerateExportPath generates a default export path for a session
func GenerateExportPath(homeDir, sessionTitle string) string {
	sanitized := SanitizeFilename(sessionTitle)
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("glimpse-session-%s-%s.json", sanitized, timestamp)
	return filepath.Join(homeDir, "Downloads", filename)
}

// GenerateSessionName generates a session title from the first user message
func GenerateSessionName(firstMessage string) string {
	name := strings.Join(strings.Fields(firstMessage), " ")
	if name == "" {
		return fmt.Sprintf("Session %s", time.Now().Format("Jan 2, 3:04 PM"))
	}

	if utf8.RuneCountInString(name) > 30 {
		name = strings.TrimSpace(truncateRunes(name, 30)) + "..."
	}
	return name
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

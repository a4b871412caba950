// Package userstate owns each user's synthesis preferences (active voice,
// model, speaking rate, pitch) in a single aggregate instead of scattered
// per-concern maps.
package userstate

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

const dirPermissions = 0o750

const schema = `
CREATE TABLE IF NOT EXISTS user_prefs (
    user_id INTEGER PRIMARY KEY,
    voice_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    speaking_rate REAL NOT NULL,
    pitch REAL NOT NULL
);
`

const (
	upsertPrefs = `
INSERT INTO user_prefs (user_id, voice_id, model_id, speaking_rate, pitch)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    voice_id = excluded.voice_id,
    model_id = excluded.model_id,
    speaking_rate = excluded.speaking_rate,
    pitch = excluded.pitch
`
	selectAllPrefs = `SELECT user_id, voice_id, model_id, speaking_rate, pitch FROM user_prefs`
)

// Preferences is one user's synthesis settings.
type Preferences struct {
	VoiceID      string
	ModelID      string
	SpeakingRate float64
	Pitch        float64
}

// Store keeps preferences in memory and writes them through to SQLite so
// they survive restarts. An empty path keeps the store memory-only.
type Store struct {
	mu       sync.Mutex
	prefs    map[int64]Preferences
	defaults Preferences
	db       *sql.DB
	log      *logger.Logger
}

// Open initializes the store, creating the schema and loading any persisted
// rows.
func Open(path string, defaults Preferences, log *logger.Logger) (*Store, error) {
	store := &Store{
		prefs:    make(map[int64]Preferences),
		defaults: defaults,
		log:      log,
	}

	if path == "" {
		return store, nil
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		err := os.MkdirAll(dir, dirPermissions)
		if err != nil {
			return nil, fmt.Errorf("failed to create user state directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open user state database: %w", err)
	}

	_, err = db.Exec(schema)
	if err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			log.Warn("Failed to close user state database: %v", closeErr)
		}

		return nil, fmt.Errorf("failed to initialize user state schema: %w", err)
	}

	store.db = db

	err = store.loadAll()
	if err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			log.Warn("Failed to close user state database: %v", closeErr)
		}

		return nil, err
	}

	return store, nil
}

// Close releases the underlying database, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close user state database: %w", err)
	}

	return nil
}

// Get returns the user's preferences, falling back to the configured
// defaults for users never seen before.
func (s *Store) Get(userID int64) Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, ok := s.prefs[userID]
	if !ok {
		return s.defaults
	}

	return prefs
}

// SetVoice updates the user's active voice.
func (s *Store) SetVoice(userID int64, voiceID string) error {
	return s.update(userID, func(p *Preferences) { p.VoiceID = voiceID })
}

// SetModel updates the user's synthesis model.
func (s *Store) SetModel(userID int64, modelID string) error {
	return s.update(userID, func(p *Preferences) { p.ModelID = modelID })
}

// SetSpeakingRate updates the user's speaking rate.
func (s *Store) SetSpeakingRate(userID int64, rate float64) error {
	return s.update(userID, func(p *Preferences) { p.SpeakingRate = rate })
}

// SetPitch updates the user's pitch.
func (s *Store) SetPitch(userID int64, pitch float64) error {
	return s.update(userID, func(p *Preferences) { p.Pitch = pitch })
}

func (s *Store) update(userID int64, mutate func(*Preferences)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, ok := s.prefs[userID]
	if !ok {
		prefs = s.defaults
	}

	mutate(&prefs)
	s.prefs[userID] = prefs

	return s.persist(userID, prefs)
}

func (s *Store) persist(userID int64, prefs Preferences) error {
	if s.db == nil {
		return nil
	}

	_, err := s.db.Exec(upsertPrefs,
		userID, prefs.VoiceID, prefs.ModelID, prefs.SpeakingRate, prefs.Pitch)
	if err != nil {
		return fmt.Errorf("failed to persist preferences for user %d: %w", userID, err)
	}

	return nil
}

func (s *Store) loadAll() error {
	rows, err := s.db.Query(selectAllPrefs)
	if err != nil {
		return fmt.Errorf("failed to load user preferences: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			s.log.Warn("Failed to close preference rows: %v", closeErr)
		}
	}()

	for rows.Next() {
		var (
			userID int64
			prefs  Preferences
		)

		err = rows.Scan(&userID, &prefs.VoiceID, &prefs.ModelID, &prefs.SpeakingRate, &prefs.Pitch)
		if err != nil {
			return fmt.Errorf("failed to scan preference row: %w", err)
		}

		s.prefs[userID] = prefs
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("failed to iterate preference rows: %w", err)
	}

	s.log.Info("Loaded preferences for %d users", len(s.prefs))

	return nil
}

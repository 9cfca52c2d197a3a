package localstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
	_ "modernc.org/sqlite"
)

const (
	keyState  = "state"
	keyDevice = "device"
)

// SQLiteStore persists under a single kv table in one SQLite file.
type SQLiteStore struct {
	db       *sql.DB
	logger   *slog.Logger
	degraded atomic.Bool

	// Memory fallbacks, written on every save so a degraded store keeps
	// serving the latest state for the rest of the process.
	memState  atomic.Pointer[document.Document]
	memDevice atomic.Pointer[DevicePrefs]
}

// Open opens (or creates) the store at path. logger may be nil.
func Open(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure kv table: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) SaveDocument(doc *document.Document) {
	clone := doc.Clone()
	s.memState.Store(clone)
	if s.degraded.Load() {
		return
	}

	raw, err := json.Marshal(clone)
	if err != nil {
		s.logger.Error("marshal document", "error", err)
		return
	}
	if err := s.put(keyState, raw); err != nil {
		s.logger.Warn("local persistence failed, continuing memory-only", "error", err)
		s.degraded.Store(true)
	}
}

func (s *SQLiteStore) LoadDocument(now document.Millis) (*document.Document, LoadResult) {
	if s.degraded.Load() {
		if doc := s.memState.Load(); doc != nil {
			return doc.Clone(), LoadResult{Degraded: true}
		}
		return document.New(), LoadResult{Fresh: true, Degraded: true}
	}

	raw, err := s.get(keyState)
	if err != nil {
		s.logger.Warn("local read failed, continuing memory-only", "error", err)
		s.degraded.Store(true)
		return document.New(), LoadResult{Fresh: true, Degraded: true}
	}
	if raw == nil {
		return document.New(), LoadResult{Fresh: true}
	}

	doc, err := document.Decode(raw, now)
	if err != nil {
		// Keep the bytes for manual recovery, never trust them.
		backupKey := fmt.Sprintf("backup:%d", time.Now().UnixMilli())
		if putErr := s.put(backupKey, raw); putErr != nil {
			s.logger.Error("backup of corrupt document failed", "error", putErr)
			backupKey = ""
		}
		s.logger.Warn("saved document failed validation, starting fresh",
			"error", err, "backup", backupKey)
		fresh := document.New()
		s.SaveDocument(fresh)
		return fresh, LoadResult{Corrupt: true, BackupKey: backupKey}
	}

	s.memState.Store(doc.Clone())
	return doc, LoadResult{}
}

func (s *SQLiteStore) SaveDevice(prefs DevicePrefs) {
	copied := prefs
	s.memDevice.Store(&copied)
	if s.degraded.Load() {
		return
	}

	raw, err := json.Marshal(prefs)
	if err != nil {
		s.logger.Error("marshal device prefs", "error", err)
		return
	}
	if err := s.put(keyDevice, raw); err != nil {
		s.logger.Warn("device prefs persistence failed, continuing memory-only", "error", err)
		s.degraded.Store(true)
	}
}

func (s *SQLiteStore) LoadDevice() DevicePrefs {
	if s.degraded.Load() {
		if prefs := s.memDevice.Load(); prefs != nil {
			return *prefs
		}
		return DevicePrefs{}
	}

	raw, err := s.get(keyDevice)
	if err != nil || raw == nil {
		return DevicePrefs{}
	}
	var prefs DevicePrefs
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return DevicePrefs{}
	}
	return prefs
}

func (s *SQLiteStore) ResetDocument() {
	s.memState.Store(document.New())
	if s.degraded.Load() {
		return
	}
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, keyState); err != nil {
		s.logger.Warn("reset document failed", "error", err)
	}
}

// Backups lists the keys of stored corrupt-document backups.
func (s *SQLiteStore) Backups() []string {
	if s.degraded.Load() {
		return nil
	}
	rows, err := s.db.Query(`SELECT key FROM kv WHERE key LIKE 'backup:%' ORDER BY key`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if rows.Scan(&key) == nil {
			keys = append(keys, key)
		}
	}
	return keys
}

// Degraded reports whether the store has fallen back to memory-only.
func (s *SQLiteStore) Degraded() bool {
	return s.degraded.Load()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) put(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv(key, value, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	return err
}

func (s *SQLiteStore) get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"glimpse/model"
)

// Where a cached model list came from.
const (
	SourceLive     = "live"
	SourceRegistry = "registry"
)

// CachedModels is one persisted model-list entry.
type CachedModels struct {
	ProviderID string
	Models     []model.ModelInfo
	Source     string
	FetchedAt  time.Time
}

// ModelCacheStore persists model lists in sqlite so a restart starts warm.
type ModelCacheStore struct {
	db *sql.DB
}

func NewModelCacheStore(dbPath string) (*ModelCacheStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &ModelCacheStore{db: db}

	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

func (ms *ModelCacheStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS model_cache (
		provider_id TEXT PRIMARY KEY,
		models TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	);
	`

	if _, err := ms.db.Exec(schema); err != nil {
		return err
	}

	if err := ms.migrateSchema(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// migrateSchema adds columns introduced after the first release
func (ms *ModelCacheStore) migrateSchema() error {
	hasSource, err := ms.columnExists("model_cache", "source")
	if err != nil {
		return fmt.Errorf("failed to check for source column: %w", err)
	}

	if !hasSource {
		if _, err := ms.db.Exec(`ALTER TABLE model_cache ADD COLUMN source TEXT DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add source column: %w", err)
		}
	}

	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info
func (ms *ModelCacheStore) columnExists(tableName, columnName string) (bool, error) {
	rows, err := ms.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}

	return false, rows.Err()
}

func (ms *ModelCacheStore) Save(entry CachedModels) error {
	models, err := json.Marshal(entry.Models)
	if err != nil {
		return fmt.Errorf("failed to marshal models: %w", err)
	}

	_, err = ms.db.Exec(`
	INSERT OR REPLACE INTO model_cache (provider_id, models, fetched_at, source)
	VALUES (?, ?, ?, ?)
	`,
		strings.ToLower(entry.ProviderID),
		string(models),
		entry.FetchedAt.UnixNano(),
		entry.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to save model cache entry: %w: %w", model.ErrPersistenceIO, err)
	}
	return nil
}

// Load returns nil, nil when no entry exists.
func (ms *ModelCacheStore) Load(providerID string) (*CachedModels, error) {
	row := ms.db.QueryRow(`
	SELECT provider_id, models, fetched_at, source
	FROM model_cache
	WHERE provider_id = ?
	`, strings.ToLower(providerID))

	entry, err := scanCachedModels(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model cache entry: %w: %w", model.ErrPersistenceIO, err)
	}
	return entry, nil
}

func (ms *ModelCacheStore) List() ([]CachedModels, error) {
	rows, err := ms.db.Query(`
	SELECT provider_id, models, fetched_at, source
	FROM model_cache
	ORDER BY provider_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list model cache: %w: %w", model.ErrPersistenceIO, err)
	}
	defer rows.Close()

	var entries []CachedModels
	for rows.Next() {
		entry, err := scanCachedModels(rows)
		if err != nil {
			continue
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

func (ms *ModelCacheStore) Delete(providerID string) error {
	_, err := ms.db.Exec(`DELETE FROM model_cache WHERE provider_id = ?`, strings.ToLower(providerID))
	return err
}

func (ms *ModelCacheStore) Close() error {
	if ms.db != nil {
		return ms.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCachedModels(row rowScanner) (*CachedModels, error) {
	var (
		entry     CachedModels
		models    string
		fetchedAt int64
		source    sql.NullString
	)
	if err := row.Scan(&entry.ProviderID, &models, &fetchedAt, &source); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(models), &entry.Models); err != nil {
		return nil, err
	}
	entry.FetchedAt = time.Unix(0, fetchedAt)
	entry.Source = source.String
	return &entry, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/openmaas/openmaas-gateway/internal/domain"
	"github.com/openmaas/openmaas-gateway/internal/storage"
)

// Store is a SQLite implementation of SecretStore and HistoryStore
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			provider_id TEXT PRIMARY KEY,
			secret TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			model_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			media TEXT,
			ttfc_ms INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_model ON history(model_id, seq)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) PutSecret(ctx context.Context, providerID domain.ProviderID, secret string) error {
	query := `INSERT INTO credentials (provider_id, secret, updated_at) VALUES (?, ?, ?)
	          ON CONFLICT(provider_id) DO UPDATE SET secret = excluded.secret, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, string(providerID), secret, time.Now()); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

func (s *Store) GetSecret(ctx context.Context, providerID domain.ProviderID) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx, `SELECT secret FROM credentials WHERE provider_id = ?`, string(providerID)).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get credential: %w", err)
	}
	return secret, nil
}

func (s *Store) DeleteSecret(ctx context.Context, providerID domain.ProviderID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE provider_id = ?`, string(providerID)); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (s *Store) ListSecrets(ctx context.Context) ([]domain.ProviderID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider_id FROM credentials ORDER BY provider_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var ids []domain.ProviderID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		ids = append(ids, domain.ProviderID(id))
	}
	return ids, rows.Err()
}

// media is the JSON column holding generated attachments.
type media struct {
	Images []domain.Image `json:"images,omitempty"`
	Videos []domain.Video `json:"videos,omitempty"`
	Audios []domain.Audio `json:"audios,omitempty"`
}

func (s *Store) AppendEntry(ctx context.Context, entry *storage.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	mediaJSON, err := json.Marshal(media{Images: entry.Images, Videos: entry.Videos, Audios: entry.Audios})
	if err != nil {
		return fmt.Errorf("failed to marshal media: %w", err)
	}

	query := `INSERT INTO history (id, model_id, role, content, media, ttfc_ms, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.ModelID, string(entry.Role), entry.Content, string(mediaJSON),
		entry.TimeToFirstChunkMillis, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, modelID string) ([]*storage.HistoryEntry, error) {
	query := `SELECT id, model_id, role, content, media, ttfc_ms, created_at
	          FROM history WHERE model_id = ?
	          ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*storage.HistoryEntry
	for rows.Next() {
		var (
			e         storage.HistoryEntry
			role      string
			mediaJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ModelID, &role, &e.Content, &mediaJSON, &e.TimeToFirstChunkMillis, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Role = domain.Role(role)
		if mediaJSON.Valid && mediaJSON.String != "" {
			var m media
			if err := json.Unmarshal([]byte(mediaJSON.String), &m); err != nil {
				return nil, fmt.Errorf("failed to unmarshal media: %w", err)
			}
			e.Images, e.Videos, e.Audios = m.Images, m.Videos, m.Audios
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *Store) ClearEntries(ctx context.Context, modelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE model_id = ?`, modelID); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

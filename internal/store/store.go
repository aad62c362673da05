package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Store persists per-conversation privacy dictionaries and message-hash
// bookkeeping in PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// New creates a new conversation store instance
func New(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Conversation store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// initialize checks the connection and ensures the schema exists
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	schema := []string{
		// dict_data stays TEXT: jsonb would re-sort object keys, and key
		// order is the longest-match tie-breaker.
		`CREATE TABLE IF NOT EXISTS conversation_dicts (
			conversation_id TEXT PRIMARY KEY,
			dict_data TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS anonymized_messages (
			conversation_id TEXT NOT NULL,
			message_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (conversation_id, message_hash)
		)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	s.logger.Info("Database schema initialized")
	return nil
}

// GetDict loads the privacy dictionary for a conversation. The second return
// value reports whether the conversation exists. A stored but corrupt
// dictionary degrades to an empty one rather than failing the caller.
func (s *Store) GetDict(ctx context.Context, conversationID string) (map[string]string, bool, error) {
	var raw string
	query := `SELECT dict_data FROM conversation_dicts WHERE conversation_id = $1`

	err := s.db.GetContext(ctx, &raw, query, conversationID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load dictionary: %w", err)
	}

	var rules map[string]string
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		s.logger.Error("Stored dictionary is corrupt, treating as empty",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return map[string]string{}, true, nil
	}

	s.logger.Debug("Dictionary loaded",
		zap.String("conversation_id", conversationID),
		zap.Int("entries", len(rules)))

	return rules, true, nil
}

// GetDictJSON loads the raw dictionary JSON for a conversation.
func (s *Store) GetDictJSON(ctx context.Context, conversationID string) (string, bool, error) {
	var raw string
	query := `SELECT dict_data FROM conversation_dicts WHERE conversation_id = $1`

	err := s.db.GetContext(ctx, &raw, query, conversationID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load dictionary: %w", err)
	}

	return raw, true, nil
}

// SaveDictJSON upserts the privacy dictionary for a conversation. The raw
// JSON is stored as given: key order is meaningful (it breaks ties between
// equally long terms) and re-marshalling a map would destroy it.
func (s *Store) SaveDictJSON(ctx context.Context, conversationID, dictJSON string) error {
	query := `
		INSERT INTO conversation_dicts (conversation_id, dict_data, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (conversation_id) DO UPDATE SET
			dict_data = EXCLUDED.dict_data,
			updated_at = now()`

	if _, err := s.db.ExecContext(ctx, query, conversationID, dictJSON); err != nil {
		return fmt.Errorf("failed to save dictionary: %w", err)
	}

	s.logger.Debug("Dictionary saved",
		zap.String("conversation_id", conversationID),
		zap.Int("bytes", len(dictJSON)))

	return nil
}

// DeleteConversation removes a conversation's dictionary and its message
// bookkeeping. The second return value reports whether anything was deleted.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_dicts WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to delete dictionary: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM anonymized_messages WHERE conversation_id = $1`, conversationID); err != nil {
		return false, fmt.Errorf("failed to delete message records: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return true, nil
	}

	s.logger.Info("Conversation deleted",
		zap.String("conversation_id", conversationID),
		zap.Int64("dictionaries_removed", deleted))

	return deleted > 0, nil
}

// ListConversations returns all known conversation IDs, most recent first.
func (s *Store) ListConversations(ctx context.Context) ([]string, error) {
	ids := []string{}
	query := `SELECT conversation_id FROM conversation_dicts ORDER BY updated_at DESC`

	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	return ids, nil
}

// IsMessageAnonymized reports whether a message hash was already processed
// for a conversation.
func (s *Store) IsMessageAnonymized(ctx context.Context, conversationID, messageHash string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(
		SELECT 1 FROM anonymized_messages WHERE conversation_id = $1 AND message_hash = $2)`

	if err := s.db.GetContext(ctx, &exists, query, conversationID, messageHash); err != nil {
		return false, fmt.Errorf("failed to check message status: %w", err)
	}

	return exists, nil
}

// MarkMessageAnonymized records that a message hash was processed.
func (s *Store) MarkMessageAnonymized(ctx context.Context, conversationID, messageHash string) error {
	query := `
		INSERT INTO anonymized_messages (conversation_id, message_hash, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (conversation_id, message_hash) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, conversationID, messageHash); err != nil {
		return fmt.Errorf("failed to mark message: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}

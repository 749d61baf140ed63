package contextstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// CardMessage is one structured conversation turn for a card.
type CardMessage struct {
	ID        int64     `json:"id"`
	CardID    string    `json:"card_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CardStore is the structured conversation store backing conversation-mode
// resumption. One row per turn, ordered by insertion.
type CardStore struct {
	db *sql.DB
}

// NewCardStore opens (or creates) the store at path.
func NewCardStore(path string) (*CardStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open card store: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS card_contexts (
		card_id    TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS card_messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		card_id    TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_card_messages_card ON card_messages(card_id, id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create card store schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Card store initialized")
	return &CardStore{db: db}, nil
}

// InitCardContext registers a card's conversation context. Calling it again
// for the same card is a no-op.
func (s *CardStore) InitCardContext(ctx context.Context, cardID, projectID, agentName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO card_contexts (card_id, project_id, agent_name, created_at) VALUES (?, ?, ?, ?)`,
		cardID, projectID, agentName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to init card context: %w", err)
	}
	return nil
}

// AppendCardMessage appends one conversation turn.
func (s *CardStore) AppendCardMessage(ctx context.Context, cardID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO card_messages (card_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		cardID, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append card message: %w", err)
	}
	return nil
}

// LoadCardMessages returns a card's conversation turns in insertion order.
func (s *CardStore) LoadCardMessages(ctx context.Context, cardID string) ([]CardMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, card_id, role, content, created_at FROM card_messages WHERE card_id = ? ORDER BY id`,
		cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load card messages: %w", err)
	}
	defer rows.Close()

	var messages []CardMessage
	for rows.Next() {
		var m CardMessage
		if err := rows.Scan(&m.ID, &m.CardID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan card message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Close closes the underlying database.
func (s *CardStore) Close() error {
	return s.db.Close()
}

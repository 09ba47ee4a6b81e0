package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/stellarlinkco/recallpipe/internal/history"
)

const schemaVersion = 1

// Store is the SQLite transcript store behind the recall layer. Writes
// are serialized with a mutex; reads go straight to the pool.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Session is one conversation transcript.
type Session struct {
	ID        string
	Channel   string
	Peer      string
	CreatedAt string
	UpdatedAt string
	Messages  int
}

// SearchHit is one full-text match over stored message content.
type SearchHit struct {
	SessionID string
	Seq       int64
	Role      string
	Text      string
	CreatedAt string
}

// Stats summarizes store contents.
type Stats struct {
	Sessions    int
	Messages    int
	TotalTokens int
}

// Open opens (creating if needed) the transcript database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrateSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL DEFAULT 'cli',
			peer TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			parts TEXT NOT NULL DEFAULT '',
			search_text TEXT NOT NULL DEFAULT '',
			token_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(session_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			search_text,
			content='messages',
			content_rowid='id',
			tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, search_text) VALUES (new.id, new.search_text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, search_text) VALUES('delete', old.id, old.search_text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, search_text) VALUES('delete', old.id, old.search_text);
			INSERT INTO messages_fts(rowid, search_text) VALUES (new.id, new.search_text);
		END`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) migrateSchema() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("migrate schema: read version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("migrate schema: database version %d newer than supported %d", version, schemaVersion)
	}
	if version == schemaVersion {
		return nil
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("migrate schema: stamp version: %w", err)
	}
	return nil
}

// NewSession creates a session with a generated identifier.
func (s *Store) NewSession(channel, peer string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(channel) == "" {
		channel = "cli"
	}
	id := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, channel, peer) VALUES (?, ?, ?)
	`, id, channel, strings.TrimSpace(peer))
	if err != nil {
		return Session{}, fmt.Errorf("new session: %w", err)
	}
	return s.session(id)
}

func (s *Store) session(id string) (Session, error) {
	row := s.db.QueryRow(`
		SELECT id, channel, peer, created_at, updated_at,
		       (SELECT COUNT(1) FROM messages WHERE session_id = sessions.id)
		FROM sessions WHERE id = ?
	`, id)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.Channel, &sess.Peer, &sess.CreatedAt, &sess.UpdatedAt, &sess.Messages); err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// Append stores msg as the next turn of the session, creating the
// session row on first use. It returns the assigned sequence number.
func (s *Store) Append(sessionID string, msg history.Message, tokenCount int) (int64, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, fmt.Errorf("append: empty session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	partsJSON := ""
	if !msg.IsPlainText() {
		data, err := json.Marshal(msg.Parts)
		if err != nil {
			return 0, fmt.Errorf("append: encode parts: %w", err)
		}
		partsJSON = string(data)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("append: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO sessions (id) VALUES (?)`, sessionID); err != nil {
		return 0, fmt.Errorf("append: ensure session: %w", err)
	}

	var seq int64
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?
	`, sessionID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("append: next seq: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO messages (session_id, seq, role, text, parts, search_text, token_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, seq, string(msg.Role), msg.Text, partsJSON, searchableText(msg), tokenCount); err != nil {
		return 0, fmt.Errorf("append: insert message: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET updated_at = datetime('now') WHERE id = ?
	`, sessionID); err != nil {
		return 0, fmt.Errorf("append: touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append: commit: %w", err)
	}
	return seq, nil
}

// Messages returns the session's transcript in chronological order.
func (s *Store) Messages(sessionID string) ([]history.Message, error) {
	rows, err := s.db.Query(`
		SELECT role, text, parts FROM messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]history.Message, 0)
	for rows.Next() {
		var role, text, partsJSON string
		if err := rows.Scan(&role, &text, &partsJSON); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg := history.Message{Role: history.Role(role), Text: text}
		if partsJSON != "" {
			if err := json.Unmarshal([]byte(partsJSON), &msg.Parts); err != nil {
				return nil, fmt.Errorf("decode parts: %w", err)
			}
			if msg.Parts == nil {
				msg.Parts = []history.Part{}
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// Sessions lists sessions, most recently active first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, channel, peer, created_at, updated_at,
		       (SELECT COUNT(1) FROM messages WHERE session_id = sessions.id)
		FROM sessions
		ORDER BY updated_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	result := make([]Session, 0)
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Channel, &sess.Peer, &sess.CreatedAt, &sess.UpdatedAt, &sess.Messages); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return result, nil
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PruneIdleSessions deletes sessions whose last activity is older than
// the window. It returns the number of sessions removed.
func (s *Store) PruneIdleSessions(window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-window).Format("2006-01-02 15:04:05")
	res, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune sessions: rows affected: %w", err)
	}
	return n, nil
}

// SearchFTS runs a full-text query over message content, best match
// first.
func (s *Store) SearchFTS(query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT m.session_id, m.seq, m.role, m.search_text, m.created_at
		FROM messages m
		JOIN messages_fts f ON m.id = f.rowid
		WHERE messages_fts MATCH ?
		ORDER BY bm25(messages_fts), m.created_at DESC
		LIMIT ?
	`, q, limit)
	if err != nil {
		return nil, fmt.Errorf("search fts: %w", err)
	}
	defer rows.Close()

	hits := make([]SearchHit, 0)
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.SessionID, &h.Seq, &h.Role, &h.Text, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

// OptimizeFTS merges the full-text index segments and checkpoints the
// WAL. Run from maintenance jobs, not the request path.
func (s *Store) OptimizeFTS() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`INSERT INTO messages_fts(messages_fts) VALUES('optimize')`); err != nil {
		return fmt.Errorf("optimize fts: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Stats reports store-wide counts.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM sessions`).Scan(&st.Sessions); err != nil {
		return Stats{}, fmt.Errorf("stats sessions: %w", err)
	}
	row := s.db.QueryRow(`SELECT COUNT(1), COALESCE(SUM(token_count), 0) FROM messages`)
	if err := row.Scan(&st.Messages, &st.TotalTokens); err != nil {
		return Stats{}, fmt.Errorf("stats messages: %w", err)
	}
	return st, nil
}

// searchableText flattens a message's textual content for the FTS index.
// Media payloads and opaque reasoning blobs are not indexed.
func searchableText(m history.Message) string {
	if m.IsPlainText() {
		return m.Text
	}
	var sb strings.Builder
	write := func(s string) {
		if strings.TrimSpace(s) == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(s)
	}
	for _, p := range m.Parts {
		switch p.Kind {
		case history.PartText, history.PartReasoning, history.PartToolResult:
			write(p.Text)
		case history.PartToolCall:
			write(p.ToolName)
		}
	}
	return sb.String()
}

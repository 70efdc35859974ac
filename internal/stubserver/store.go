package stubserver

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Fixed-width UTC timestamps so text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

var (
	ErrNotFound    = errors.New("not found")
	ErrEmailExists = errors.New("email exists")
)

// Store is the stub backend's SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database in dataDir and runs pending
// migrations. ":memory:" gives a private in-memory database.
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" || dataDir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "stub.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: an in-memory database lives and dies with it.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// AppliedMigrations returns applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeFormat)
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	u := User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		u.ID, u.Email, u.PasswordHash, s.stamp())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return User{}, ErrEmailExists
		}
		return User{}, err
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, "SELECT id, email, password_hash FROM users WHERE email = ?", email))
}

func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, "SELECT id, email, password_hash FROM users WHERE id = ?", id))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// IssueRefreshToken stores and returns a new refresh token for userID.
func (s *Store) IssueRefreshToken(ctx context.Context, userID string) (string, error) {
	token := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (token, user_id, created_at) VALUES (?, ?, ?)",
		token, userID, s.stamp())
	if err != nil {
		return "", err
	}
	return token, nil
}

// RefreshTokenOwner returns the user a refresh token was issued to.
func (s *Store) RefreshTokenOwner(ctx context.Context, token string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.password_hash
		FROM refresh_tokens r JOIN users u ON u.id = r.user_id
		WHERE r.token = ?`, token))
}

// --- Documents ---

// SaveDocument stores the document row and its chunks in one transaction.
func (s *Store) SaveDocument(ctx context.Context, d Document, chunks []string) (Document, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, user_id, file_name, size_bytes, char_count, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.FileName, d.SizeBytes, d.CharCount, d.UploadedAt.UTC().Format(timeFormat),
	); err != nil {
		return Document{}, fmt.Errorf("inserting document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO document_chunks (document_id, chunk_index, content) VALUES (?, ?, ?)")
	if err != nil {
		return Document{}, fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()
	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, d.ID, i, c); err != nil {
			return Document{}, fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("committing document: %w", err)
	}
	return d, nil
}

// ListDocuments returns userID's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, file_name, size_bytes, char_count, uploaded_at
		FROM documents WHERE user_id = ? ORDER BY uploaded_at DESC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetDocument returns the document only if userID owns it.
func (s *Store) GetDocument(ctx context.Context, userID, id string) (Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, file_name, size_bytes, char_count, uploaded_at
		FROM documents WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return Document{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Document{}, err
		}
		return Document{}, ErrNotFound
	}
	return scanDocument(rows)
}

func scanDocument(rows *sql.Rows) (Document, error) {
	var d Document
	var uploadedAt string
	if err := rows.Scan(&d.ID, &d.UserID, &d.FileName, &d.SizeBytes, &d.CharCount, &uploadedAt); err != nil {
		return Document{}, err
	}
	t, err := time.Parse(timeFormat, uploadedAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing uploaded_at %q: %w", uploadedAt, err)
	}
	d.UploadedAt = t
	return d, nil
}

// DeleteDocument removes a document owned by userID with its chunks and
// chat history.
func (s *Store) DeleteDocument(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	for _, q := range []string{
		"DELETE FROM document_chunks WHERE document_id = ?",
		"DELETE FROM chat_history WHERE document_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Chunks returns a document's text chunks in order.
func (s *Store) Chunks(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT content FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC", documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Chat history ---

// SaveExchange records one question and its answer.
func (s *Store) SaveExchange(ctx context.Context, userID, documentID, query, answer string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.stamp()
	for _, m := range []ChatEntry{{Type: "user", Content: query}, {Type: "ai", Content: answer}} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_history (id, document_id, user_id, message_type, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), documentID, userID, m.Type, m.Content, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// History returns a document's chat history in insertion order.
func (s *Store) History(ctx context.Context, documentID string) ([]ChatEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT message_type, content FROM chat_history WHERE document_id = ? ORDER BY rowid ASC", documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatEntry
	for rows.Next() {
		var e ChatEntry
		if err := rows.Scan(&e.Type, &e.Content); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

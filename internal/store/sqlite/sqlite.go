package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/dmchat-server/internal/store"
	"github.com/vovakirdan/dmchat-server/internal/store/migrations"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	searchLimit         = 20
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLite store.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	return &SQLiteStore{db: db, now: utcNow}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema on an in-memory database.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Run setup function (e.g., apply schema)
	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: utcNow}, nil
}

// NewMigrated opens dbPath and applies the embedded migrations.
func NewMigrated(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := migrations.Up(ctx, db, migrations.DialectSQLite)
		return err
	})
}

// SchemaVersion reports the applied migration version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int64, error) {
	return migrations.Version(ctx, s.db, migrations.DialectSQLite)
}

// DB exposes the underlying handle for migrations.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	user := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	query := `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.PasswordHash, user.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user: %w", store.ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.queryUser(ctx, query, id)
}

// GetUserByUsername retrieves a user by username, case-insensitively.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return s.queryUser(ctx, query, username)
}

func (s *SQLiteStore) queryUser(ctx context.Context, query string, arg any) (*store.User, error) {
	var user store.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// SearchUsers finds users whose name contains query, case-insensitively.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query, excludeID string) ([]*store.User, error) {
	sqlQuery := `
		SELECT id, username, created_at
		FROM users
		WHERE username LIKE ? ESCAPE '\' AND id != ?
		ORDER BY username ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, sqlQuery, "%"+escapeLike(query)+"%", excludeID, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ==== ConversationStore implementation ====

// GetOrCreateDirect returns the direct conversation between two users, creating it if needed.
func (s *SQLiteStore) GetOrCreateDirect(ctx context.Context, userA, userB string) (*store.Conversation, bool, error) {
	key := store.DirectKey(userA, userB)

	id, err := s.directConversationID(ctx, key)
	if err == nil {
		conv, err := s.GetConversation(ctx, id)
		return conv, false, err
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	id = uuid.NewString()
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, direct_key, is_group, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
	`, id, key, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent create.
			tx.Rollback() //nolint:errcheck
			existing, err := s.directConversationID(ctx, key)
			if err != nil {
				return nil, false, err
			}
			conv, err := s.GetConversation(ctx, existing)
			return conv, false, err
		}
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}

	for _, userID := range []string{userA, userB} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES (?, ?, ?)
		`, id, userID, now)
		if err != nil {
			return nil, false, fmt.Errorf("add participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit transaction: %w", err)
	}

	conv, err := s.GetConversation(ctx, id)
	return conv, true, err
}

func (s *SQLiteStore) directConversationID(ctx context.Context, key string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM conversations WHERE direct_key = ?`, key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("conversation not found: %w", store.ErrNotFound)
		}
		return "", fmt.Errorf("query conversation: %w", err)
	}
	return id, nil
}

// GetConversation retrieves a conversation with its participants and last message.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	query := `
		SELECT id, is_group, last_message_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	var conv store.Conversation
	var lastMessageID sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.IsGroup,
		&lastMessageID,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation not found: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	participants, err := s.participants(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Participants = participants

	if lastMessageID.Valid {
		conv.LastMessageID = lastMessageID.String
		last, err := s.GetMessage(ctx, lastMessageID.String)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		conv.LastMessage = last
	}

	return &conv, nil
}

func (s *SQLiteStore) participants(ctx context.Context, conversationID string) ([]*store.User, error) {
	query := `
		SELECT u.id, u.username, u.created_at
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ?
		ORDER BY p.joined_at ASC, u.username ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// ListConversations lists a user's conversations, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	query := `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}

	// Rows are closed before the follow-up queries: the pool holds a single connection.
	conversations := make([]*store.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsParticipant checks whether the user takes part in the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = ? AND user_id = ?
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

// UpdateConversationLastMessage points the conversation at its newest message.
func (s *SQLiteStore) UpdateConversationLastMessage(ctx context.Context, conversationID, messageID string) error {
	query := `
		UPDATE conversations
		SET last_message_id = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, messageID, s.now(), conversationID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conversation not found: %w", store.ErrNotFound)
	}
	return nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a sealed message with status sent.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg store.NewMessage) (*store.Message, error) {
	kind := msg.Kind
	if kind == "" {
		kind = store.MessageKindText
	}
	id := uuid.NewString()
	now := s.now()

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, iv, auth_tag, kind, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		id, msg.ConversationID, msg.SenderID, msg.Content, msg.IV, msg.AuthTag,
		kind, store.MessageStatusSent, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return s.GetMessage(ctx, id)
}

const messageColumns = `
	m.id, m.conversation_id, m.sender_id, COALESCE(u.username, ''),
	m.content, m.iv, m.auth_tag, m.kind, m.status, m.created_at, m.updated_at
`

func scanMessage(row interface{ Scan(...any) error }) (*store.Message, error) {
	var m store.Message
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.SenderName,
		&m.Content,
		&m.IV,
		&m.AuthTag,
		&m.Kind,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.ReadBy = []string{}
	return &m, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message not found: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	if err := s.loadReadBy(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns up to limit messages of a conversation in ascending time order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]*store.Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if beforeID != "" {
		query := `SELECT ` + messageColumns + `
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.conversation_id = ? AND m.seq < (SELECT seq FROM messages WHERE id = ?)
			ORDER BY m.seq DESC
			LIMIT ?
		`
		rows, err = s.db.QueryContext(ctx, query, conversationID, beforeID, limit)
	} else {
		query := `SELECT ` + messageColumns + `
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.conversation_id = ?
			ORDER BY m.seq DESC
			LIMIT ?
		`
		rows, err = s.db.QueryContext(ctx, query, conversationID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	rows.Close()

	// Reverse to get chronological order (oldest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	for _, msg := range messages {
		if err := s.loadReadBy(ctx, msg); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (s *SQLiteStore) loadReadBy(ctx context.Context, msg *store.Message) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM message_reads
		WHERE message_id = ?
		ORDER BY read_at ASC, user_id ASC
	`, msg.ID)
	if err != nil {
		return fmt.Errorf("query read receipts: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return err
	}
	if ids != nil {
		msg.ReadBy = ids
	}
	return nil
}

// MarkMessageRead adds userID to the read set and sets the status to read.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, messageID, userID string) (*store.Message, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = ? WHERE id = ?
	`, store.MessageStatusRead, now, messageID)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("message not found: %w", store.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
		VALUES (?, ?, ?)
	`, messageID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("insert read receipt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return s.GetMessage(ctx, messageID)
}

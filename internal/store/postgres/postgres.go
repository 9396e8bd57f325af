// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/vovakirdan/dmchat-server/internal/store"
	"github.com/vovakirdan/dmchat-server/internal/store/migrations"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	searchLimit         = 20
)

// PostgresStore implements store.Store for PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New opens a connection pool for dsn and applies pending migrations.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, now: utcNow}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	_, err := migrations.Up(ctx, sqlDB, migrations.DialectPostgres)
	return err
}

// SchemaVersion reports the applied migration version.
func (s *PostgresStore) SchemaVersion(ctx context.Context) (int64, error) {
	sqlDB := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer sqlDB.Close()

	return migrations.Version(ctx, sqlDB, migrations.DialectPostgres)
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// isUniqueViolation checks for a PostgreSQL unique constraint violation (code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// ==== UserStore implementation ====

func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	user := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user: %w", store.ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.queryUser(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = $1
	`, id)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.queryUser(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE LOWER(username) = LOWER($1)
	`, username)
}

func (s *PostgresStore) queryUser(ctx context.Context, query string, arg any) (*store.User, error) {
	var user store.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) SearchUsers(ctx context.Context, query, excludeID string) ([]*store.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, created_at
		FROM users
		WHERE username ILIKE $1 ESCAPE '\' AND id <> $2
		ORDER BY username ASC
		LIMIT $3
	`, "%"+escapeLike(query)+"%", excludeID, searchLimit)
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

func (s *PostgresStore) GetOrCreateDirect(ctx context.Context, userA, userB string) (*store.Conversation, bool, error) {
	key := store.DirectKey(userA, userB)
	now := s.now()
	id := uuid.NewString()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		INSERT INTO conversations (id, direct_key, is_group, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, $3)
		ON CONFLICT (direct_key) DO NOTHING
	`, id, key, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}

	created := tag.RowsAffected() == 1
	if created {
		for _, userID := range []string{userA, userB} {
			if _, err := tx.Exec(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
				VALUES ($1, $2, $3)
			`, id, userID, now); err != nil {
				return nil, false, fmt.Errorf("add participant: %w", err)
			}
		}
	} else if err := tx.QueryRow(ctx, `SELECT id FROM conversations WHERE direct_key = $1`, key).Scan(&id); err != nil {
		return nil, false, fmt.Errorf("query conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit transaction: %w", err)
	}

	conv, err := s.GetConversation(ctx, id)
	return conv, created, err
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var conv store.Conversation
	var lastMessageID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, is_group, last_message_id, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`, id).Scan(&conv.ID, &conv.IsGroup, &lastMessageID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation not found: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.username, u.created_at
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = $1
		ORDER BY p.joined_at ASC, u.username ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		conv.Participants = append(conv.Participants, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}

	if lastMessageID != nil {
		conv.LastMessageID = *lastMessageID
		last, err := s.GetMessage(ctx, *lastMessageID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		conv.LastMessage = last
	}
	return &conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC, c.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan conversation ids: %w", err)
	}

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

func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateConversationLastMessage(ctx context.Context, conversationID, messageID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message_id = $1, updated_at = $2
		WHERE id = $3
	`, messageID, s.now(), conversationID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation not found: %w", store.ErrNotFound)
	}
	return nil
}

// ==== MessageStore implementation ====

func (s *PostgresStore) CreateMessage(ctx context.Context, msg store.NewMessage) (*store.Message, error) {
	kind := msg.Kind
	if kind == "" {
		kind = store.MessageKindText
	}
	id := uuid.NewString()
	now := s.now()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, iv, auth_tag, kind, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, id, msg.ConversationID, msg.SenderID, msg.Content, msg.IV, msg.AuthTag, string(kind), string(store.MessageStatusSent), now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return s.GetMessage(ctx, id)
}

const messageColumns = `
	m.id, m.conversation_id, m.sender_id, COALESCE(u.username, ''),
	m.content, m.iv, m.auth_tag, m.kind, m.status, m.created_at, m.updated_at,
	COALESCE(ARRAY(
		SELECT r.user_id FROM message_reads r
		WHERE r.message_id = m.id
		ORDER BY r.read_at ASC, r.user_id ASC
	), '{}')
`

func scanMessage(row pgx.Row) (*store.Message, error) {
	var m store.Message
	var kind, status string
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.SenderName,
		&m.Content,
		&m.IV,
		&m.AuthTag,
		&kind,
		&status,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.ReadBy,
	)
	if err != nil {
		return nil, err
	}
	m.Kind = store.MessageKind(kind)
	m.Status = store.MessageStatus(status)
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	return &m, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message not found: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]*store.Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	var (
		rows pgx.Rows
		err  error
	)
	if beforeID != "" {
		rows, err = s.pool.Query(ctx, `SELECT `+messageColumns+`
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.conversation_id = $1 AND m.seq < (SELECT seq FROM messages WHERE id = $2)
			ORDER BY m.seq DESC
			LIMIT $3
		`, conversationID, beforeID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+messageColumns+`
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.conversation_id = $1
			ORDER BY m.seq DESC
			LIMIT $2
		`, conversationID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *PostgresStore) MarkMessageRead(ctx context.Context, messageID, userID string) (*store.Message, error) {
	now := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE messages SET status = $1, updated_at = $2 WHERE id = $3
	`, string(store.MessageStatusRead), now, messageID)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("message not found: %w", store.ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, messageID, userID, now); err != nil {
		return nil, fmt.Errorf("insert read receipt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return s.GetMessage(ctx, messageID)
}

package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/ychat20/ychat-server/internal/store"
)

//go:embed schema.sql
var schema string

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps one shared
	// database alive for ":memory:".
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ApplySchema creates all tables and indexes if they do not exist.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// ==== UserStore implementation ====

const userColumns = `id, username, email, password_hash, full_name, bio, created_at, updated_at`

func scanUser(row rowScanner) (*store.User, error) {
	var (
		user     store.User
		email    sql.NullString
		fullName sql.NullString
		bio      sql.NullString
	)
	err := row.Scan(&user.ID, &user.Username, &email, &user.PasswordHash, &fullName, &bio, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	user.Email = nullString(email)
	user.FullName = nullString(fullName)
	user.Bio = nullString(bio)
	return &user, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username string, email *string, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, username, email, passwordHash, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

// UpdateProfile sets the non-nil profile fields and bumps updated_at.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, id int64, update store.ProfileUpdate) (*store.User, error) {
	query := `
		UPDATE users
		SET full_name = COALESCE(?, full_name),
		    bio = COALESCE(?, bio),
		    updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, update.FullName, update.Bio, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("user: %w", store.ErrNotFound)
	}
	return s.GetUserByID(ctx, id)
}

// SearchUsers returns up to 20 users whose username contains query.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username LIKE '%' || ? || '%'
		ORDER BY username ASC
		LIMIT 20
	`, query)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]*store.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ==== RoomStore implementation ====

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*store.Room, error) {
	var room store.Room
	var description sql.NullString
	if err := row.Scan(&room.ID, &room.Name, &description, &room.CreatorID, &room.CreatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		room.Description = &description.String
	}
	return &room, nil
}

// CreateRoom creates a room and adds the creator as its first member.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string, description *string, creatorID int64) (*store.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (name, description, creator_id, created_at)
		VALUES (?, ?, ?, ?)
	`, name, description, creatorID, now)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	roomID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO room_members (room_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, roomID, creatorID, now); err != nil {
		return nil, fmt.Errorf("add creator to members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetRoomByID(ctx, roomID)
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id int64) (*store.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, creator_id, created_at
		FROM rooms
		WHERE id = ?
	`, id)
	room, err := scanRoom(row)
	if err != nil {
		return nil, notFound("room", err)
	}
	return room, nil
}

// ListRoomsForUser lists the rooms the user is a member of, newest first.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID int64) ([]*store.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.creator_id, r.created_at
		FROM rooms r
		JOIN room_members rm ON r.id = rm.room_id
		WHERE rm.user_id = ?
		ORDER BY r.created_at DESC, r.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]*store.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// AddMember adds a user to a room.
func (s *SQLiteStore) AddMember(ctx context.Context, roomID, userID int64) (*store.RoomMember, error) {
	member := &store.RoomMember{RoomID: roomID, UserID: userID, JoinedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_members (room_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, member.RoomID, member.UserID, member.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("insert room member: %w", err)
	}
	return member, nil
}

// RemoveMember removes a user from a room.
func (s *SQLiteStore) RemoveMember(ctx context.Context, roomID, userID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM room_members
		WHERE room_id = ? AND user_id = ?
	`, roomID, userID)
	if err != nil {
		return fmt.Errorf("delete room member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("room member: %w", store.ErrNotFound)
	}
	return nil
}

// IsMember checks if user is a member of the room.
func (s *SQLiteStore) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM room_members
		WHERE room_id = ? AND user_id = ?
	`, roomID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}
	return true, nil
}

// CountMembers returns the number of members in a room.
func (s *SQLiteStore) CountMembers(ctx context.Context, roomID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM room_members WHERE room_id = ?`, roomID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// ListRoomIDsForUser returns the IDs of every room the user belongs to.
func (s *SQLiteStore) ListRoomIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id FROM room_members
		WHERE user_id = ?
		ORDER BY room_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ==== MessageStore implementation ====

const messageColumns = `id, sender_id, receiver_id, room_id, content, created_at, edited_at, deleted_at`

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var receiverID, roomID sql.NullInt64
	var editedAt, deletedAt sql.NullTime
	if err := row.Scan(&msg.ID, &msg.SenderID, &receiverID, &roomID, &msg.Content, &msg.CreatedAt, &editedAt, &deletedAt); err != nil {
		return nil, err
	}
	if receiverID.Valid {
		msg.ReceiverID = &receiverID.Int64
	}
	if roomID.Valid {
		msg.RoomID = &roomID.Int64
	}
	if editedAt.Valid {
		msg.EditedAt = &editedAt.Time
	}
	if deletedAt.Valid {
		msg.DeletedAt = &deletedAt.Time
	}
	return &msg, nil
}

// CreateMessage persists a message in its own transaction.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, room_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.SenderID, msg.ReceiverID, msg.RoomID, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	msg.ID = id
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, notFound("message", err)
	}
	return msg, nil
}

// UpdateMessage applies mutate to the stored message inside a transaction.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, id int64, mutate func(*store.Message) error) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, notFound("message", err)
	}

	if err := mutate(msg); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET content = ?, edited_at = ?, deleted_at = ?
		WHERE id = ?
	`, msg.Content, msg.EditedAt, msg.DeletedAt, msg.ID); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return msg, nil
}

// ListDirectMessages pages through the conversation between two users.
func (s *SQLiteStore) ListDirectMessages(ctx context.Context, userID, peerID int64, page store.PageRequest) (*store.MessagePage, error) {
	where := `WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)`
	return s.listMessages(ctx, where, []any{userID, peerID, peerID, userID}, page)
}

// ListRoomMessages pages through a room's messages.
func (s *SQLiteStore) ListRoomMessages(ctx context.Context, roomID int64, page store.PageRequest) (*store.MessagePage, error) {
	return s.listMessages(ctx, `WHERE room_id = ?`, []any{roomID}, page)
}

// listMessages counts and selects inside one transaction so the total and
// the page agree.
func (s *SQLiteStore) listMessages(ctx context.Context, where string, args []any, page store.PageRequest) (*store.MessagePage, error) {
	page = page.Normalize()
	if page.Page < 1 {
		page.Page = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // read-only transaction
	}()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	query := `SELECT ` + messageColumns + ` FROM messages ` + where + `
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`
	rows, err := tx.QueryContext(ctx, query, append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0, page.PerPage)
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

	return &store.MessagePage{
		Messages:   messages,
		Pagination: store.NewPagination(page, total),
	}, nil
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)

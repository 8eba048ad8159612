package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned (wrapped) when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	Email        *string
	PasswordHash string
	FullName     *string
	Bio          *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProfileUpdate carries the profile fields to change. Nil fields are kept.
type ProfileUpdate struct {
	FullName *string
	Bio      *string
}

// Room represents a group chat room. The creator is always a member.
type Room struct {
	ID          int64
	Name        string
	Description *string
	CreatorID   int64
	CreatedAt   time.Time
}

// RoomMember represents room membership.
type RoomMember struct {
	RoomID   int64
	UserID   int64
	JoinedAt time.Time
}

// Message represents a persisted chat message.
// Exactly one of ReceiverID and RoomID is set.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID *int64
	RoomID     *int64
	Content    string
	CreatedAt  time.Time
	EditedAt   *time.Time
	DeletedAt  *time.Time
}

// IsDirect reports whether the message is addressed to a single user.
func (m *Message) IsDirect() bool {
	return m.ReceiverID != nil
}

// IsDeleted reports whether the message has been soft deleted.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

const (
	// DefaultPerPage is used when a page request does not set PerPage.
	DefaultPerPage = 50
	// MaxPerPage caps the page size.
	MaxPerPage = 100
)

// PageRequest selects one page of an ordered listing. Pages start at 1.
type PageRequest struct {
	Page    int
	PerPage int
}

// Normalize clamps PerPage to [1, MaxPerPage] and defaults an unset PerPage.
// Page is left as is; callers reject values below 1.
func (p PageRequest) Normalize() PageRequest {
	switch {
	case p.PerPage == 0:
		p.PerPage = DefaultPerPage
	case p.PerPage < 1:
		p.PerPage = 1
	case p.PerPage > MaxPerPage:
		p.PerPage = MaxPerPage
	}
	return p
}

// Offset returns the number of rows preceding the page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Pagination describes where a page sits in the full result set.
type Pagination struct {
	Page       int
	PerPage    int
	TotalPages int
	TotalItems int
	HasNext    bool
	HasPrev    bool
}

// NewPagination computes pagination metadata for a normalized request.
func NewPagination(req PageRequest, total int) Pagination {
	pages := 0
	if total > 0 {
		pages = (total + req.PerPage - 1) / req.PerPage
	}
	return Pagination{
		Page:       req.Page,
		PerPage:    req.PerPage,
		TotalPages: pages,
		TotalItems: total,
		HasNext:    req.Page < pages,
		HasPrev:    req.Page > 1,
	}
}

// MessagePage is one page of message history.
type MessagePage struct {
	Messages   []*Message
	Pagination Pagination
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password. Email is optional.
	CreateUser(ctx context.Context, username string, email *string, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUserByEmail retrieves a user by email address.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdateProfile applies the non-nil fields of update and returns the
	// updated user.
	UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*User, error)

	// SearchUsers searches for users by username substring.
	SearchUsers(ctx context.Context, query string) ([]*User, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom creates a room and inserts the creator as its first member
	// in one transaction.
	CreateRoom(ctx context.Context, name string, description *string, creatorID int64) (*Room, error)

	// GetRoomByID retrieves a room by ID.
	GetRoomByID(ctx context.Context, id int64) (*Room, error)

	// ListRoomsForUser lists the rooms the user is a member of.
	ListRoomsForUser(ctx context.Context, userID int64) ([]*Room, error)

	// AddMember adds a user to a room.
	AddMember(ctx context.Context, roomID, userID int64) (*RoomMember, error)

	// RemoveMember removes a user from a room.
	RemoveMember(ctx context.Context, roomID, userID int64) error

	// IsMember checks if user is a member of the room.
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)

	// CountMembers returns the number of members in a room.
	CountMembers(ctx context.Context, roomID int64) (int, error)

	// ListRoomIDsForUser returns the IDs of every room the user belongs to.
	ListRoomIDsForUser(ctx context.Context, userID int64) ([]int64, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage inserts msg in a transaction and fills in the server
	// assigned ID. Nothing is stored if the commit fails.
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// UpdateMessage loads the message inside a transaction and hands it to
	// mutate. If mutate returns an error the transaction is rolled back and
	// the error is returned unchanged. Otherwise the mutated content and soft
	// state are written and committed.
	UpdateMessage(ctx context.Context, id int64, mutate func(*Message) error) (*Message, error)

	// ListDirectMessages pages through the conversation between two users,
	// oldest first.
	ListDirectMessages(ctx context.Context, userID, peerID int64, page PageRequest) (*MessagePage, error)

	// ListRoomMessages pages through a room's messages, oldest first.
	ListRoomMessages(ctx context.Context, roomID int64, page PageRequest) (*MessagePage, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}

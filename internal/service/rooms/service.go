package rooms

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ychat20/ychat-server/internal/core"
	"github.com/ychat20/ychat-server/internal/store"
)

// MaxNameLength is the longest accepted room name, in characters.
const MaxNameLength = 100

// Errors for room operations. They share the core taxonomy so transports map
// them the same way as messaging errors.
var (
	ErrInvalidName   = core.NewError(core.KindValidation, "invalid_room_name", "room name must be 1 to 100 characters")
	ErrAlreadyMember = core.NewError(core.KindValidation, "already_member", "user is already a member of this room")
	ErrNotMember     = core.NewError(core.KindNotFound, "member_not_found", "user is not a member of this room")
	ErrCannotRemove  = core.NewError(core.KindAuthorization, "cannot_remove_member", "not authorized to remove this member")
	ErrCreatorLeave  = core.NewError(core.KindValidation, "creator_cannot_leave", "room creator cannot leave while other members are present")
)

// Service provides room management business logic.
type Service struct {
	store    store.Store
	registry *core.Registry
	log      *zerolog.Logger
}

// New creates a room service. registry may be nil when no live sessions
// need to follow membership changes.
func New(st store.Store, registry *core.Registry, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{store: st, registry: registry, log: logger}
}

// Create makes a room owned by creatorID. The creator becomes its first
// member; a live session of the creator subscribes explicitly.
func (s *Service) Create(ctx context.Context, creatorID int64, name string, description *string) (*store.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return nil, ErrInvalidName
	}
	if description != nil {
		d := strings.TrimSpace(*description)
		if d == "" {
			description = nil
		} else {
			description = &d
		}
	}

	room, err := s.store.CreateRoom(ctx, name, description, creatorID)
	if err != nil {
		return nil, core.Wrap(core.ErrPersistence, err)
	}

	s.log.Info().Int64("room_id", room.ID).Int64("user_id", creatorID).Msg("room created")
	return room, nil
}

// Get returns a room the user is a member of.
func (s *Service) Get(ctx context.Context, userID, roomID int64) (*store.Room, error) {
	room, err := s.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return room, nil
}

// List returns the rooms the user belongs to.
func (s *Service) List(ctx context.Context, userID int64) ([]*store.Room, error) {
	rooms, err := s.store.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, core.Wrap(core.ErrPersistence, err)
	}
	return rooms, nil
}

// AddMember adds targetID to a room. Only current members may add others.
// The added user's live session is not subscribed automatically; it sends an
// explicit subscribe.
func (s *Service) AddMember(ctx context.Context, actorID, roomID, targetID int64) (*store.RoomMember, error) {
	if _, err := s.room(ctx, roomID); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, roomID, actorID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByID(ctx, targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.ErrUserNotFound
		}
		return nil, core.Wrap(core.ErrPersistence, err)
	}

	already, err := s.store.IsMember(ctx, roomID, targetID)
	if err != nil {
		return nil, core.Wrap(core.ErrPersistence, err)
	}
	if already {
		return nil, ErrAlreadyMember
	}

	member, err := s.store.AddMember(ctx, roomID, targetID)
	if err != nil {
		return nil, core.Wrap(core.ErrPersistence, err)
	}

	s.log.Info().Int64("room_id", roomID).Int64("user_id", targetID).Int64("added_by", actorID).Msg("room member added")
	return member, nil
}

// RemoveMember removes targetID from a room. Users may remove themselves; the
// creator may remove anyone. The creator cannot leave while others remain.
func (s *Service) RemoveMember(ctx context.Context, actorID, roomID, targetID int64) error {
	room, err := s.room(ctx, roomID)
	if err != nil {
		return err
	}
	if targetID != actorID && room.CreatorID != actorID {
		return ErrCannotRemove
	}

	member, err := s.store.IsMember(ctx, roomID, targetID)
	if err != nil {
		return core.Wrap(core.ErrPersistence, err)
	}
	if !member {
		return ErrNotMember
	}

	if targetID == room.CreatorID {
		n, err := s.store.CountMembers(ctx, roomID)
		if err != nil {
			return core.Wrap(core.ErrPersistence, err)
		}
		if n > 1 {
			return ErrCreatorLeave
		}
	}

	if err := s.store.RemoveMember(ctx, roomID, targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotMember
		}
		return core.Wrap(core.ErrPersistence, err)
	}

	if s.registry != nil {
		s.registry.UnsubscribeUser(targetID, roomID)
	}

	s.log.Info().Int64("room_id", roomID).Int64("user_id", targetID).Int64("removed_by", actorID).Msg("room member removed")
	return nil
}

func (s *Service) room(ctx context.Context, roomID int64) (*store.Room, error) {
	room, err := s.store.GetRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.ErrRoomNotFound
		}
		return nil, core.Wrap(core.ErrPersistence, err)
	}
	return room, nil
}

func (s *Service) requireMember(ctx context.Context, roomID, userID int64) error {
	ok, err := s.store.IsMember(ctx, roomID, userID)
	if err != nil {
		return core.Wrap(core.ErrPersistence, err)
	}
	if !ok {
		return core.ErrNotRoomMember
	}
	return nil
}

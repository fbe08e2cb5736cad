package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"studyroom-bot/internal/domain"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type AdminStore interface {
	ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error)
	ListRooms(ctx context.Context, offset, limit int) ([]domain.Room, error)
	ListFiles(ctx context.Context, offset, limit int) ([]domain.File, error)
	CountUsers(ctx context.Context) (int, error)
	CountRooms(ctx context.Context) (int, error)
	CountAllFiles(ctx context.Context) (int, error)
	TotalUsage(ctx context.Context, date string) (int, error)
	SetRole(ctx context.Context, userID int64, role domain.Role) (domain.User, error)
	DeactivateRoom(ctx context.Context, code string) (domain.Room, error)
}

// PageRequest selects one page of a listing. Page is 1-based.
type PageRequest struct {
	Page  int
	Limit int
}

func (p PageRequest) normalize() (offset, limit int) {
	limit = p.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	limit = min(limit, maxPageLimit)
	page := max(p.Page, 1)
	return (page - 1) * limit, limit
}

type Stats struct {
	Users        int    `json:"users"`
	Rooms        int    `json:"rooms"`
	Files        int    `json:"files"`
	AICallsToday int    `json:"ai_calls_today"`
	Date         string `json:"date"`
}

type AdminService struct {
	store AdminStore
	now   func() time.Time
}

func NewAdminService(store AdminStore) (*AdminService, error) {
	if store == nil {
		return nil, errors.New("usecase: admin store must not be nil")
	}
	return &AdminService{store: store, now: time.Now}, nil
}

func (s *AdminService) ListUsers(ctx context.Context, p PageRequest) ([]domain.User, error) {
	offset, limit := p.normalize()
	users, err := s.store.ListUsers(ctx, offset, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_list_users_error", err)
	}
	return users, nil
}

func (s *AdminService) ListRooms(ctx context.Context, p PageRequest) ([]domain.Room, error) {
	offset, limit := p.normalize()
	rooms, err := s.store.ListRooms(ctx, offset, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_list_rooms_error", err)
	}
	return rooms, nil
}

func (s *AdminService) ListFiles(ctx context.Context, p PageRequest) ([]domain.File, error) {
	offset, limit := p.normalize()
	files, err := s.store.ListFiles(ctx, offset, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_list_files_error", err)
	}
	return files, nil
}

func (s *AdminService) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Date: domain.UsageDate(s.now())}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		st.Users, err = s.store.CountUsers(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.Rooms, err = s.store.CountRooms(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.Files, err = s.store.CountAllFiles(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.AICallsToday, err = s.store.TotalUsage(gctx, st.Date)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, newError(ErrorInternal, "dynamodb_stats_error", err)
	}
	return st, nil
}

func (s *AdminService) SetRole(ctx context.Context, userID int64, role string) (domain.User, error) {
	if userID <= 0 {
		return domain.User{}, newError(ErrorValidation, "invalid_user_id", nil)
	}
	r, err := domain.ParseRole(role)
	if err != nil {
		return domain.User{}, newError(ErrorValidation, "invalid_role", err)
	}
	u, err := s.store.SetRole(ctx, userID, r)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, newError(ErrorNotFound, "user_not_found", err)
	}
	if err != nil {
		return domain.User{}, newError(ErrorInternal, "dynamodb_set_role_error", err)
	}
	return u, nil
}

func (s *AdminService) DeactivateRoom(ctx context.Context, code string) (domain.Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !domain.ValidRoomCode(code) {
		return domain.Room{}, newError(ErrorValidation, "invalid_room_code", nil)
	}
	room, err := s.store.DeactivateRoom(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Room{}, newError(ErrorNotFound, "room_not_found", err)
	}
	if err != nil {
		return domain.Room{}, newError(ErrorInternal, "dynamodb_deactivate_room_error", err)
	}
	return room, nil
}

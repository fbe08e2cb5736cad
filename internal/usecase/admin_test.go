package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studyroom-bot/internal/domain"
)

type mockAdminStore struct {
	lastOffset int
	lastLimit  int
	usageDate  string
	counts     [4]int
	countErr   error
	roleErr    error
	lastRole   domain.Role
	deactErr   error
}

func (m *mockAdminStore) ListUsers(_ context.Context, offset, limit int) ([]domain.User, error) {
	m.lastOffset, m.lastLimit = offset, limit
	return []domain.User{{UserID: 1}}, nil
}

func (m *mockAdminStore) ListRooms(_ context.Context, offset, limit int) ([]domain.Room, error) {
	m.lastOffset, m.lastLimit = offset, limit
	return []domain.Room{{Code: "ABCD1234"}}, nil
}

func (m *mockAdminStore) ListFiles(_ context.Context, offset, limit int) ([]domain.File, error) {
	m.lastOffset, m.lastLimit = offset, limit
	return nil, errors.New("query failed")
}

func (m *mockAdminStore) CountUsers(context.Context) (int, error) { return m.counts[0], nil }
func (m *mockAdminStore) CountRooms(context.Context) (int, error) { return m.counts[1], nil }

func (m *mockAdminStore) CountAllFiles(context.Context) (int, error) {
	return m.counts[2], m.countErr
}

func (m *mockAdminStore) TotalUsage(_ context.Context, date string) (int, error) {
	m.usageDate = date
	return m.counts[3], nil
}

func (m *mockAdminStore) SetRole(_ context.Context, userID int64, role domain.Role) (domain.User, error) {
	m.lastRole = role
	if m.roleErr != nil {
		return domain.User{}, m.roleErr
	}
	return domain.User{UserID: userID, Role: role}, nil
}

func (m *mockAdminStore) DeactivateRoom(_ context.Context, code string) (domain.Room, error) {
	if m.deactErr != nil {
		return domain.Room{}, m.deactErr
	}
	return domain.Room{Code: code}, nil
}

func newTestAdmin(t *testing.T, store *mockAdminStore) *AdminService {
	t.Helper()
	svc, err := NewAdminService(store)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 5, 2, 23, 30, 0, 0, time.FixedZone("x", -3600)) }
	return svc
}

func TestNewAdminServiceRequiresStore(t *testing.T) {
	_, err := NewAdminService(nil)
	require.Error(t, err)
}

func TestAdminListingPagination(t *testing.T) {
	store := &mockAdminStore{}
	svc := newTestAdmin(t, store)

	users, err := svc.ListUsers(context.Background(), PageRequest{Page: 3, Limit: 10})
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, 20, store.lastOffset)
	require.Equal(t, 10, store.lastLimit)

	_, err = svc.ListRooms(context.Background(), PageRequest{Page: 0, Limit: 500})
	require.NoError(t, err)
	require.Equal(t, 0, store.lastOffset)
	require.Equal(t, maxPageLimit, store.lastLimit)

	_, err = svc.ListFiles(context.Background(), PageRequest{})
	require.Error(t, err)
	require.Equal(t, ErrorInternal, CodeOf(err))
	require.Equal(t, defaultPageLimit, store.lastLimit)
}

func TestAdminStats(t *testing.T) {
	store := &mockAdminStore{counts: [4]int{7, 3, 12, 41}}
	svc := newTestAdmin(t, store)

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Users: 7, Rooms: 3, Files: 12, AICallsToday: 41, Date: "2026-05-03"}, st)
	require.Equal(t, "2026-05-03", store.usageDate)

	store.countErr = errors.New("throttled")
	_, err = svc.Stats(context.Background())
	require.Equal(t, ErrorInternal, CodeOf(err))
}

func TestAdminSetRole(t *testing.T) {
	store := &mockAdminStore{}
	svc := newTestAdmin(t, store)

	u, err := svc.SetRole(context.Background(), 5, " Admin ")
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, u.Role)

	_, err = svc.SetRole(context.Background(), 5, "root")
	require.Equal(t, ErrorValidation, CodeOf(err))

	_, err = svc.SetRole(context.Background(), 0, "user")
	require.Equal(t, ErrorValidation, CodeOf(err))

	store.roleErr = domain.ErrNotFound
	_, err = svc.SetRole(context.Background(), 9, "user")
	require.Equal(t, ErrorNotFound, CodeOf(err))
}

func TestAdminDeactivateRoom(t *testing.T) {
	store := &mockAdminStore{}
	svc := newTestAdmin(t, store)

	room, err := svc.DeactivateRoom(context.Background(), "abcd1234")
	require.NoError(t, err)
	require.Equal(t, "ABCD1234", room.Code)

	_, err = svc.DeactivateRoom(context.Background(), "short")
	require.Equal(t, ErrorValidation, CodeOf(err))

	store.deactErr = domain.ErrNotFound
	_, err = svc.DeactivateRoom(context.Background(), "ABCD1234")
	require.Equal(t, ErrorNotFound, CodeOf(err))
}

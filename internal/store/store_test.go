package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/database"
	apperrors "github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/errors"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

// setupTestDB starts PostgreSQL in a container and applies the migrations.
// The test is skipped when no container runtime is available.
func setupTestDB(t *testing.T) *database.PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "ldapsync",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Failed to start test container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := database.NewPostgres(ctx, "postgres://test:test@"+host+":"+port.Port()+"/ldapsync?sslmode=disable")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db))
	return db
}

func newTenant(t *testing.T, s *Store, id, quota int) context.Context {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateTenant(ctx, id, "portal", quota))
	sysCtx, err := s.AuthenticateSystem(ctx, id)
	require.NoError(t, err)
	return sysCtx
}

func TestSession(t *testing.T) {
	s := New(nil, zaptest.NewLogger(t))

	_, err := tenant(context.Background())
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrForbidden))

	ctx := context.WithValue(context.Background(), sessionKey{}, &session{tenantID: 7})
	id, err := tenant(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	require.NoError(t, s.Logout(ctx))
	_, err = tenant(ctx)
	assert.Error(t, err, "closed sessions are rejected")
	assert.Error(t, s.Logout(ctx))
	assert.Error(t, s.Logout(context.Background()))
}

func TestDBError(t *testing.T) {
	assert.NoError(t, dbError("op", nil))

	conflict := dbError("create user", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "idx_users_tenant_sid"})
	assert.True(t, apperrors.IsErrorCode(conflict, apperrors.ErrConflict))

	quota := apperrors.QuotaExceeded("users", 1)
	assert.Same(t, quota, dbError("op", quota))

	wrapped := dbError("op", errors.New("boom"))
	assert.True(t, apperrors.IsErrorCode(wrapped, apperrors.ErrDatabase))
}

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "u.id::text, u.sid", prefixed("u", "id::text, sid"))
}

func TestStore_Users(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, zaptest.NewLogger(t))
	ctx := newTenant(t, s, 1, 0)

	alice, err := s.CreateUser(ctx, ldapsync.LocalUser{UserName: "alice", Email: "Alice@Example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, alice.ID)
	assert.Equal(t, ldapsync.UserActive, alice.Status)

	found, ok, err := s.FindUnlinkedUser(ctx, "nobody", "alice@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice.ID, found.ID)

	alice.SID = "sid-alice"
	alice.DirectoryContacts = true
	alice.Title = "Engineer"
	require.NoError(t, s.UpdateUser(ctx, alice))

	byS, ok, err := s.GetUserBySID(ctx, "sid-alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Engineer", byS.Title)
	assert.True(t, byS.DirectoryContacts)

	_, ok, err = s.FindUnlinkedUser(ctx, "alice", "")
	require.NoError(t, err)
	assert.False(t, ok, "linked users are not adoptable")

	linked, err := s.ListLinkedUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, linked, 1)

	_, err = s.CreateUser(ctx, ldapsync.LocalUser{UserName: "ALICE"})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrConflict))

	err = s.UpdateUser(ctx, ldapsync.LocalUser{ID: "00000000-0000-0000-0000-000000000000", UserName: "x"})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrNotFound))
}

func TestStore_UserQuota(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, zaptest.NewLogger(t))
	ctx := newTenant(t, s, 2, 1)

	_, err := s.CreateUser(ctx, ldapsync.LocalUser{UserName: "first"})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, ldapsync.LocalUser{UserName: "second"})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrQuotaExceeded))

	_, err = s.CreateUser(ctx, ldapsync.LocalUser{UserName: "guest", IsGuest: true})
	assert.NoError(t, err, "guests do not count against the quota")
}

func TestStore_TenantIsolation(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, zaptest.NewLogger(t))
	one := newTenant(t, s, 10, 0)
	two := newTenant(t, s, 11, 0)

	_, err := s.CreateUser(one, ldapsync.LocalUser{UserName: "alice", SID: "sid-a"})
	require.NoError(t, err)

	_, ok, err := s.GetUserBySID(two, "sid-a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.AuthenticateSystem(context.Background(), 404)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrForbidden))
}

func TestStore_GroupsAndRights(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, zaptest.NewLogger(t))
	ctx := newTenant(t, s, 3, 0)

	owner, err := s.CreateUser(ctx, ldapsync.LocalUser{UserName: "owner"})
	require.NoError(t, err)
	require.NoError(t, s.SetTenantOwner(ctx, owner.ID))
	bob, err := s.CreateUser(ctx, ldapsync.LocalUser{UserName: "bob", SID: "sid-bob"})
	require.NoError(t, err)

	tenantInfo, err := s.GetTenant(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, tenantInfo.OwnerID)

	isAdmin, err := s.IsAdministrator(ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)
	isAdmin, err = s.IsAdministrator(ctx, bob.ID)
	require.NoError(t, err)
	assert.False(t, isAdmin)
	require.NoError(t, s.SetAdministrator(ctx, bob.ID, true))
	isAdmin, err = s.IsAdministrator(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	g, err := s.CreateGroup(ctx, ldapsync.LocalGroup{SID: "sid-g", Name: "Staff"})
	require.NoError(t, err)
	require.NoError(t, s.AddGroupMember(ctx, g.ID, bob.ID))
	require.NoError(t, s.AddGroupMember(ctx, g.ID, bob.ID))

	members, err := s.GroupMembers(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "bob", members[0].UserName)

	g.Name = "Team"
	require.NoError(t, s.UpdateGroup(ctx, g))
	got, ok, err := s.GetGroupBySID(ctx, "sid-g")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Team", got.Name)

	require.NoError(t, s.GrantRight(ctx, bob.ID, ldapsync.RightPeople))
	require.NoError(t, s.GrantRight(ctx, bob.ID, ldapsync.RightPeople))
	rights, err := s.UserRights(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []ldapsync.AccessRight{ldapsync.RightPeople}, rights)
	require.NoError(t, s.RevokeRight(ctx, bob.ID, ldapsync.RightPeople))
	rights, err = s.UserRights(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, rights)

	require.NoError(t, s.RemoveGroupMember(ctx, g.ID, bob.ID))
	require.NoError(t, s.DeleteGroup(ctx, g.ID))
	groups, err := s.ListLinkedGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestStore_SettingsAndSchedules(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, zaptest.NewLogger(t))
	ctx := newTenant(t, s, 4, 0)

	var domain ldapsync.CurrentDomain
	ok, err := s.LoadSettings(ctx, ldapsync.CurrentDomainKey, &domain)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveSettings(ctx, ldapsync.CurrentDomainKey, ldapsync.CurrentDomain{Domain: "example.com"}))
	require.NoError(t, s.SaveSettings(ctx, ldapsync.CurrentDomainKey, ldapsync.CurrentDomain{Domain: "corp.example.com"}))
	ok, err = s.LoadSettings(ctx, ldapsync.CurrentDomainKey, &domain)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "corp.example.com", domain.Domain)

	require.NoError(t, s.SaveSettings(ctx, ldapsync.CronSettingsKey, ldapsync.CronSettings{Cron: "0 */6 * * *"}))
	other := newTenant(t, s, 5, 0)
	require.NoError(t, s.SaveSettings(other, ldapsync.CronSettingsKey, ldapsync.CronSettings{}))

	schedules, err := s.CronSchedules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int]ldapsync.CronSettings{4: {Cron: "0 */6 * * *"}}, schedules)
}

func TestStore_Photos(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, zaptest.NewLogger(t))
	ctx := newTenant(t, s, 6, 0)

	u, err := s.CreateUser(ctx, ldapsync.LocalUser{UserName: "carol"})
	require.NoError(t, err)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	require.NoError(t, s.SyncPhoto(ctx, u.ID, png))
	data, err := s.Photo(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, png, data)

	require.NoError(t, s.ResetThumbnails(ctx, u.ID))
	require.NoError(t, s.RemovePhoto(ctx, u.ID))
	data, err = s.Photo(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, data)

	err = s.SyncPhoto(ctx, "00000000-0000-0000-0000-000000000000", png)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrNotFound))
}

func TestMigrationVersion(t *testing.T) {
	db := setupTestDB(t)
	version, err := MigrationVersion(context.Background(), db)
	require.NoError(t, err)

	latest, err := LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)
}

func TestLatestVersion(t *testing.T) {
	latest, err := LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)
}

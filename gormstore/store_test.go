package gormstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/venueauth"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func strp(s string) *string { return &s }

func newPasswordAccount(id, email string) *venueauth.Account {
	return &venueauth.Account{
		ID:           id,
		Email:        strp(email),
		PasswordHash: strp("$2a$04$hash"),
		RoleID:       "role-user",
	}
}

func TestAccountStoreCreateAndFind(t *testing.T) {
	store := NewAccountStore(openTestDB(t))
	ctx := context.Background()

	lastAttempt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newPasswordAccount("u1", "a@x.com")
	a.Phone = strp("+15550100200")
	a.FailedLoginIPs = map[string]venueauth.FailedIPEntry{"10.0.0.1": {Count: 2, LastAttempt: lastAttempt}}
	a.LoginIPs = []string{"10.0.0.9"}
	require.NoError(t, store.Create(ctx, a))
	assert.Equal(t, int64(1), a.Version)

	for name, find := range map[string]func() (*venueauth.Account, error){
		"id":    func() (*venueauth.Account, error) { return store.FindByID(ctx, "u1") },
		"email": func() (*venueauth.Account, error) { return store.FindByEmail(ctx, "a@x.com") },
		"phone": func() (*venueauth.Account, error) { return store.FindByPhone(ctx, "+15550100200") },
	} {
		got, err := find()
		require.NoError(t, err, name)
		require.NotNil(t, got, name)
		assert.Equal(t, "u1", got.ID, name)
		assert.Equal(t, 2, got.FailedLoginIPs["10.0.0.1"].Count, name)
		assert.True(t, got.FailedLoginIPs["10.0.0.1"].LastAttempt.Equal(lastAttempt), name)
		assert.Equal(t, []string{"10.0.0.9"}, got.LoginIPs, name)
	}

	missing, err := store.FindByGoogleID(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAccountStoreCreateConflicts(t *testing.T) {
	store := NewAccountStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newPasswordAccount("u1", "a@x.com")))
	err := store.Create(ctx, newPasswordAccount("u2", "a@x.com"))
	assert.ErrorIs(t, err, venueauth.ErrAccountConflict)

	google := &venueauth.Account{ID: "g1", Email: strp("g@x.com"), GoogleID: strp("g-1")}
	require.NoError(t, store.Create(ctx, google))
	dup := &venueauth.Account{ID: "g2", Email: strp("h@x.com"), GoogleID: strp("g-1")}
	assert.ErrorIs(t, store.Create(ctx, dup), venueauth.ErrAccountConflict)

	bare := &venueauth.Account{ID: "n1", Email: strp("n@x.com")}
	assert.ErrorIs(t, store.Create(ctx, bare), venueauth.ErrPreconditionFailed)

	// Accounts without a phone do not collide on NULL.
	require.NoError(t, store.Create(ctx, newPasswordAccount("u3", "c@x.com")))
}

func TestAccountStoreUpdate(t *testing.T) {
	store := NewAccountStore(openTestDB(t))
	ctx := context.Background()
	a := newPasswordAccount("u1", "a@x.com")
	a.GoogleID = strp("g-1")
	a.GoogleAccessToken = "ga"
	require.NoError(t, store.Create(ctx, a))

	lockUntil := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	locked := true
	method := venueauth.MFAMethodEmail
	updated, err := store.Update(ctx, "u1", venueauth.AccountUpdate{
		IsLocked:  &locked,
		LockUntil: &lockUntil,
		MFAMethod: &method,
		LoginIPs:  []string{"10.0.0.1", "10.0.0.2"},
	})
	require.NoError(t, err)
	assert.True(t, updated.IsLocked)
	require.NotNil(t, updated.LockUntil)
	assert.True(t, updated.LockUntil.Equal(lockUntil))
	assert.Equal(t, venueauth.MFAMethodEmail, updated.MFAMethod)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, updated.LoginIPs)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "a@x.com", updated.EmailAddress(), "untouched fields survive")

	cleared, err := store.Update(ctx, "u1", venueauth.AccountUpdate{ClearGoogle: true, ClearLockUntil: true})
	require.NoError(t, err)
	assert.False(t, cleared.HasGoogle())
	assert.Empty(t, cleared.GoogleAccessToken)
	assert.Nil(t, cleared.LockUntil)
	assert.True(t, cleared.HasPassword())

	_, err = store.Update(ctx, "missing", venueauth.AccountUpdate{IsLocked: &locked})
	assert.ErrorIs(t, err, venueauth.ErrAccountNotFound)
}

func TestAccountStoreUpdateEmailConflict(t *testing.T) {
	store := NewAccountStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newPasswordAccount("u1", "a@x.com")))
	require.NoError(t, store.Create(ctx, newPasswordAccount("u2", "b@x.com")))

	_, err := store.Update(ctx, "u2", venueauth.AccountUpdate{Email: strp("a@x.com")})
	assert.ErrorIs(t, err, venueauth.ErrAccountConflict)
}

func TestAccountStoreIncrementLoginAttemptsConcurrent(t *testing.T) {
	store := NewAccountStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newPasswordAccount("u1", "a@x.com")))

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.IncrementLoginAttempts(ctx, "u1")
			if err == nil {
				results <- n
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for n := range results {
		assert.False(t, seen[n], "count %d returned twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)

	got, err := store.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, workers, got.LoginAttempts)

	_, err = store.IncrementLoginAttempts(ctx, "missing")
	assert.ErrorIs(t, err, venueauth.ErrAccountNotFound)
}

func TestAccountStoreCompareAndSwapFailedIPs(t *testing.T) {
	store := NewAccountStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newPasswordAccount("u1", "a@x.com")))

	ips := map[string]venueauth.FailedIPEntry{"10.0.0.1": {Count: 1, LastAttempt: time.Now().UTC()}}
	ok, err := store.CompareAndSwapFailedIPs(ctx, "u1", 1, ips)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CompareAndSwapFailedIPs(ctx, "u1", 1, map[string]venueauth.FailedIPEntry{})
	require.NoError(t, err)
	assert.False(t, ok, "stale version must not write")

	got, err := store.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 1, got.FailedLoginIPs["10.0.0.1"].Count)

	_, err = store.CompareAndSwapFailedIPs(ctx, "missing", 1, ips)
	assert.ErrorIs(t, err, venueauth.ErrAccountNotFound)
}

func TestTokenStoreLifecycle(t *testing.T) {
	store := NewTokenStore(openTestDB(t))
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*venueauth.Token{
		{Token: "r1", Type: venueauth.TokenRefresh, AccountID: "u1", ExpiresAt: now.Add(time.Hour)},
		{Token: "r2", Type: venueauth.TokenRefresh, AccountID: "u1", ExpiresAt: now.Add(time.Hour)},
		{Token: "a1", Type: venueauth.TokenAccess, AccountID: "u1", ExpiresAt: now.Add(-time.Minute)},
		{Token: "r3", Type: venueauth.TokenRefresh, AccountID: "u2", ExpiresAt: now.Add(time.Hour), Identifier: strp("x")},
	}
	for _, r := range records {
		require.NoError(t, store.Create(ctx, r))
	}

	got, err := store.FindByToken(ctx, "r3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, venueauth.TokenRefresh, got.Type)
	require.NotNil(t, got.Identifier)
	assert.Equal(t, "x", *got.Identifier)

	missing, err := store.FindByToken(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := store.BlacklistActive(ctx, venueauth.TokenFilter{AccountID: "u1", Type: venueauth.TokenRefresh})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.BlacklistActive(ctx, venueauth.TokenFilter{Token: "r1"})
	require.NoError(t, err)
	assert.Zero(t, n, "already blacklisted rows are not counted")

	n, err = store.DeleteExpiredOrBlacklisted(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	survivor, err := store.FindByToken(ctx, "r3")
	require.NoError(t, err)
	assert.NotNil(t, survivor)
}

func TestDialectorFor(t *testing.T) {
	_, err := dialectorFor("mysql://root:secret@db/auth")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")

	d, err := dialectorFor("sqlite://:memory:")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())
}

func TestZapLoggerOmitsParameters(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db, err := gorm.Open(sqlite.Open("file:zaplogger?mode=memory&cache=shared"), &gorm.Config{
		Logger: NewZapLogger(zap.New(core), ZapLoggerConfig{Level: gormlogger.Info}),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	store := NewAccountStore(db)
	require.NoError(t, store.Create(context.Background(), newPasswordAccount("u1", "secret@x.com")))

	entries := logs.FilterMessage("gorm.query").All()
	require.NotEmpty(t, entries)
	for _, e := range entries {
		sql, _ := e.ContextMap()["sql"].(string)
		assert.NotContains(t, sql, "secret@x.com")
	}
	assert.NotEmpty(t, logs.FilterField(zap.String("operation", "INSERT")).All())
}

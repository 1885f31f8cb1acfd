package postgresdb

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/tokenshrt/internal/db/gateway"
	"github.com/patric-chuzhbe/tokenshrt/internal/models"
)

func newTestDB(t *testing.T) *PostgresDB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN is not set")
	}

	db, err := New(context.Background(), dsn, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func randomID(n int) string {
	return uuid.NewString()[:n]
}

func TestAddClicksRunsInATransaction(t *testing.T) {
	db := &PostgresDB{gw: gateway.New("postgres://nobody@127.0.0.1:1/none", time.Second)}

	err := db.AddClicks(context.Background(), map[string]int64{"abcdefg": 1})

	var notConnected *gateway.NotConnectedError
	require.ErrorAs(t, err, &notConnected)
	assert.Equal(t, "Transaction", notConnected.Op)
	assert.ErrorIs(t, err, models.ErrNotConnected)

	assert.NoError(t, db.AddClicks(context.Background(), nil), "an empty flush touches nothing")
}

func TestUsers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	uid := randomID(20)
	token := randomID(13)

	stored, err := db.UpsertUser(ctx, uid, token)
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	stored, err = db.UpsertUser(ctx, uid, randomID(13))
	require.NoError(t, err)
	assert.Equal(t, token, stored, "an existing user keeps the first token")

	usr, found, err := db.FindUserByToken(ctx, token)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uid, usr.UID)
	assert.Equal(t, token, usr.Token)

	_, found, err = db.FindUserByToken(ctx, "bogus")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = db.UpsertUser(ctx, randomID(20), token)
	assert.ErrorIs(t, err, models.ErrConflict, "tokens are unique across users")
}

func TestConcurrentUpsertReturnsOneToken(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	uid := randomID(20)

	const callers = 8
	tokens := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = db.UpsertUser(ctx, uid, randomID(13))
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
}

func TestShortURLs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	uid := randomID(20)
	token, err := db.UpsertUser(ctx, uid, randomID(13))
	require.NoError(t, err)

	short := randomID(10)
	require.NoError(t, db.InsertShortURL(ctx, short, "https://example.com/a", token, time.Now()))

	err = db.InsertShortURL(ctx, short, "https://example.com/b", token, time.Now())
	assert.ErrorIs(t, err, models.ErrConflict)

	err = db.InsertShortURL(ctx, randomID(10), "https://example.com/c", "bogus", time.Now())
	assert.ErrorIs(t, err, models.ErrNotAuthorized)

	long, found, err := db.FindFullByShort(ctx, short)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "https://example.com/a", long)

	_, found, err = db.FindFullByShort(ctx, "doesnotexi")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, db.AddClicks(ctx, map[string]int64{short: 3}))
	require.NoError(t, db.AddClicks(ctx, map[string]int64{short: 2, "unknown": 1}))

	urls, err := db.GetUserUrls(ctx, uid, func(s string) string { return "http://localhost:8000/" + s })
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, "http://localhost:8000/"+short, urls[0].ShortURL)
	assert.Equal(t, "https://example.com/a", urls[0].OriginalURL)
	assert.Equal(t, int64(5), urls[0].Clicks)

	users, err := db.GetNumberOfUsers(ctx)
	require.NoError(t, err)
	assert.Positive(t, users)

	shortened, err := db.GetNumberOfShortenedURLs(ctx)
	require.NoError(t, err)
	assert.Positive(t, shortened)
}

func TestClosedStoreRefusesQueries(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Close())

	_, _, err := db.FindFullByShort(context.Background(), "abc")
	assert.ErrorIs(t, err, models.ErrNotConnected)
}

// Package postgresdb provides the PostgreSQL-backed storage for users and
// short URLs. All access goes through the SQL gateway, so every query is
// parameterized and refused once the store has been closed.
package postgresdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/tokenshrt/internal/db/gateway"
	"github.com/patric-chuzhbe/tokenshrt/internal/models"
	"github.com/patric-chuzhbe/tokenshrt/internal/user"
)

// PostgresDB implements the service storage on top of a connected gateway.
type PostgresDB struct {
	gw *gateway.Gateway
}

// New connects to the database and makes sure the users and urls tables exist.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
) (*PostgresDB, error) {
	gw := gateway.New(databaseDSN, connectionTimeout)

	if err := gw.Connect(ctx); err != nil {
		return nil, err
	}

	if err := gw.InitializeTables(ctx); err != nil {
		_ = gw.Disconnect()
		return nil, err
	}

	return &PostgresDB{gw: gw}, nil
}

// FindUserByToken looks the user up by exact token match.
func (db *PostgresDB) FindUserByToken(ctx context.Context, token string) (*user.User, bool, error) {
	var uid, storedToken string
	found, err := db.gw.FetchRow(
		ctx,
		`SELECT uid, token FROM users WHERE token = @token`,
		gateway.Args{"token": token},
		&uid,
		&storedToken,
	)
	if err != nil || !found {
		return nil, false, err
	}

	return &user.User{UID: trimChar(uid), Token: trimChar(storedToken)}, true, nil
}

// UpsertUser inserts the user or, when the uid is taken, leaves the row untouched.
// Either way it returns the token stored for uid. A token that already belongs to
// another user surfaces as models.ErrConflict.
func (db *PostgresDB) UpsertUser(ctx context.Context, uid, token string) (string, error) {
	var storedToken string
	_, err := db.gw.FetchValue(
		ctx,
		`
			INSERT INTO users(uid, token) VALUES(@uid, @token)
				ON CONFLICT (uid) DO UPDATE SET uid = EXCLUDED.uid
				RETURNING token
		`,
		gateway.Args{"uid": uid, "token": token},
		&storedToken,
	)
	if err != nil {
		return "", err
	}

	return trimChar(storedToken), nil
}

// InsertShortURL stores a new short URL owned by the user holding token. The owner
// is resolved inside the insert itself, so an unknown token writes nothing and
// yields models.ErrNotAuthorized.
func (db *PostgresDB) InsertShortURL(
	ctx context.Context,
	short,
	long,
	token string,
	createdAt time.Time,
) error {
	affected, err := db.gw.Execute(
		ctx,
		`
			INSERT INTO urls(short, long, created_by, created_at)
				SELECT @short, @long, uid, @created_at FROM users WHERE token = @token
		`,
		gateway.Args{
			"short":      short,
			"long":       long,
			"token":      token,
			"created_at": createdAt.UTC(),
		},
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotAuthorized
	}

	return nil
}

// FindFullByShort retrieves the long URL registered under short.
func (db *PostgresDB) FindFullByShort(ctx context.Context, short string) (string, bool, error) {
	var long string
	found, err := db.gw.FetchValue(
		ctx,
		`SELECT long FROM urls WHERE short = @short`,
		gateway.Args{"short": short},
		&long,
	)
	if err != nil || !found {
		return "", false, err
	}

	return long, true, nil
}

// GetUserUrls streams the URLs created by uid, oldest first.
func (db *PostgresDB) GetUserUrls(
	ctx context.Context,
	uid string,
	shortURLFormatter models.URLFormatter,
) (models.UserUrls, error) {
	formatter := func(str string) string { return str }
	if shortURLFormatter != nil {
		formatter = shortURLFormatter
	}

	result := models.UserUrls{}
	err := db.gw.Iterate(
		ctx,
		`
			SELECT short, long, COALESCE(clicks, 0), created_at
				FROM urls
				WHERE created_by = @uid
				ORDER BY created_at, short
		`,
		gateway.Args{"uid": uid},
		func(row pgx.Row) error {
			var short, long string
			var clicks int64
			var createdAt time.Time
			if err := row.Scan(&short, &long, &clicks, &createdAt); err != nil {
				return err
			}

			result = append(result, models.UserURL{
				ShortURL:    formatter(trimChar(short)),
				OriginalURL: long,
				Clicks:      clicks,
				CreatedAt:   createdAt,
			})
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// AddClicks increments the click counters in one batch inside a single
// transaction, so a flush is applied entirely or not at all. Codes are applied
// in sorted order so concurrent batches lock rows in the same sequence.
func (db *PostgresDB) AddClicks(ctx context.Context, clicks map[string]int64) error {
	if len(clicks) == 0 {
		return nil
	}

	shorts := funk.Keys(clicks).([]string)
	sort.Strings(shorts)

	argsList := make([]gateway.Args, 0, len(shorts))
	for _, short := range shorts {
		argsList = append(argsList, gateway.Args{"short": short, "n": clicks[short]})
	}

	return db.gw.Transaction(ctx, func(h *gateway.Handle) error {
		return h.ExecuteMany(
			ctx,
			`UPDATE urls SET clicks = COALESCE(clicks, 0) + @n WHERE short = @short`,
			argsList,
		)
	})
}

func (db *PostgresDB) GetNumberOfShortenedURLs(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM urls`)
}

func (db *PostgresDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM users`)
}

func (db *PostgresDB) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if _, err := db.gw.FetchValue(ctx, query, nil, &n); err != nil {
		return 0, fmt.Errorf("in internal/db/postgresdb/postgresdb.go/count(): %w", err)
	}
	return n, nil
}

// Ping verifies connectivity with the database.
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.gw.Ping(ctx)
}

// Close disconnects the gateway; any later call fails with models.ErrNotConnected.
func (db *PostgresDB) Close() error {
	return db.gw.Disconnect()
}

// CHAR(n) columns come back blank-padded.
func trimChar(value string) string {
	return strings.TrimRight(value, " ")
}

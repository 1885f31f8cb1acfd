// Package mockstorage provides a testify-based mock implementation
// of the storage interfaces consumed by the service package.
package mockstorage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/tokenshrt/internal/models"
	"github.com/patric-chuzhbe/tokenshrt/internal/user"
)

// StorageMock is a testify mock that implements every storage method
// the service layer calls.
type StorageMock struct {
	mock.Mock

	// OnGetNumberOfUsers, when set, replaces the testify handler
	// for GetNumberOfUsers.
	OnGetNumberOfUsers func(ctx context.Context) (int64, error)

	// OnGetNumberOfShortenedURLs, when set, replaces the testify handler
	// for GetNumberOfShortenedURLs.
	OnGetNumberOfShortenedURLs func(ctx context.Context) (int64, error)
}

// Ping mocks the storage health check.
func (m *StorageMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// FindUserByToken mocks the authorization lookup.
func (m *StorageMock) FindUserByToken(ctx context.Context, token string) (*user.User, bool, error) {
	args := m.Called(ctx, token)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Bool(1), args.Error(2)
}

// UpsertUser mocks user provisioning.
func (m *StorageMock) UpsertUser(ctx context.Context, uid, token string) (string, error) {
	args := m.Called(ctx, uid, token)
	return args.String(0), args.Error(1)
}

// InsertShortURL mocks URL registration.
func (m *StorageMock) InsertShortURL(
	ctx context.Context,
	short,
	long,
	token string,
	createdAt time.Time,
) error {
	args := m.Called(ctx, short, long, token, createdAt)
	return args.Error(0)
}

// FindFullByShort mocks redirect resolution.
func (m *StorageMock) FindFullByShort(ctx context.Context, short string) (string, bool, error) {
	args := m.Called(ctx, short)
	return args.String(0), args.Bool(1), args.Error(2)
}

// GetUserUrls mocks fetching the URLs registered by a user.
func (m *StorageMock) GetUserUrls(
	ctx context.Context,
	uid string,
	shortURLFormatter models.URLFormatter,
) (models.UserUrls, error) {
	args := m.Called(ctx, uid, mock.Anything)
	urls, _ := args.Get(0).(models.UserUrls)
	if shortURLFormatter != nil {
		for i := range urls {
			urls[i].ShortURL = shortURLFormatter(urls[i].ShortURL)
		}
	}
	return urls, args.Error(1)
}

// AddClicks mocks the click counter flush.
func (m *StorageMock) AddClicks(ctx context.Context, clicks map[string]int64) error {
	args := m.Called(ctx, clicks)
	return args.Error(0)
}

// GetNumberOfShortenedURLs returns OnGetNumberOfShortenedURLs when set,
// otherwise the testify expectations.
func (m *StorageMock) GetNumberOfShortenedURLs(ctx context.Context) (int64, error) {
	if m.OnGetNumberOfShortenedURLs != nil {
		return m.OnGetNumberOfShortenedURLs(ctx)
	}
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// GetNumberOfUsers returns OnGetNumberOfUsers when set,
// otherwise the testify expectations.
func (m *StorageMock) GetNumberOfUsers(ctx context.Context) (int64, error) {
	if m.OnGetNumberOfUsers != nil {
		return m.OnGetNumberOfUsers(ctx)
	}
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// Close mocks releasing the storage.
func (m *StorageMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

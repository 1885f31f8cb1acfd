// Package memorystorage keeps users and short URLs in process memory. It is
// used when no database DSN is configured and as the backing map of jsondb.
package memorystorage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/tokenshrt/internal/models"
	"github.com/patric-chuzhbe/tokenshrt/internal/user"
)

// Dump is the serializable content of a MemoryStorage.
type Dump struct {
	Users []user.User
	URLs  []models.ShortURL
}

type MemoryStorage struct {
	mu      sync.RWMutex
	users   map[string]*user.User // by uid
	byToken map[string]*user.User
	urls    map[string]*models.ShortURL // by short
}

func New() *MemoryStorage {
	return &MemoryStorage{
		users:   map[string]*user.User{},
		byToken: map[string]*user.User{},
		urls:    map[string]*models.ShortURL{},
	}
}

// NewFromDump restores a storage previously captured with Snapshot.
func NewFromDump(dump Dump) *MemoryStorage {
	s := New()
	for i := range dump.Users {
		usr := dump.Users[i]
		s.users[usr.UID] = &usr
		s.byToken[usr.Token] = &usr
	}
	for i := range dump.URLs {
		shortURL := dump.URLs[i]
		s.urls[shortURL.Short] = &shortURL
	}
	return s
}

// Snapshot copies the current content, sorted for stable output.
func (s *MemoryStorage) Snapshot() Dump {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dump := Dump{
		Users: make([]user.User, 0, len(s.users)),
		URLs:  make([]models.ShortURL, 0, len(s.urls)),
	}
	for _, usr := range s.users {
		dump.Users = append(dump.Users, *usr)
	}
	for _, shortURL := range s.urls {
		dump.URLs = append(dump.URLs, *shortURL)
	}
	sort.Slice(dump.Users, func(i, j int) bool { return dump.Users[i].UID < dump.Users[j].UID })
	sort.Slice(dump.URLs, func(i, j int) bool { return dump.URLs[i].Short < dump.URLs[j].Short })

	return dump
}

func (s *MemoryStorage) FindUserByToken(ctx context.Context, token string) (*user.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usr, found := s.byToken[token]
	if !found {
		return nil, false, nil
	}
	clone := *usr
	return &clone, true, nil
}

func (s *MemoryStorage) UpsertUser(ctx context.Context, uid, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, found := s.users[uid]; found {
		return existing.Token, nil
	}
	if _, taken := s.byToken[token]; taken {
		return "", models.ErrConflict
	}

	usr := &user.User{UID: uid, Token: token}
	s.users[uid] = usr
	s.byToken[token] = usr

	return token, nil
}

func (s *MemoryStorage) InsertShortURL(
	ctx context.Context,
	short,
	long,
	token string,
	createdAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, found := s.byToken[token]
	if !found {
		return models.ErrNotAuthorized
	}
	if _, taken := s.urls[short]; taken {
		return models.ErrConflict
	}

	s.urls[short] = &models.ShortURL{
		Short:     short,
		Long:      long,
		CreatedAt: createdAt.UTC(),
		CreatedBy: owner.UID,
	}

	return nil
}

func (s *MemoryStorage) FindFullByShort(ctx context.Context, short string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shortURL, found := s.urls[short]
	if !found {
		return "", false, nil
	}
	return shortURL.Long, true, nil
}

func (s *MemoryStorage) GetUserUrls(
	ctx context.Context,
	uid string,
	shortURLFormatter models.URLFormatter,
) (models.UserUrls, error) {
	formatter := func(str string) string { return str }
	if shortURLFormatter != nil {
		formatter = shortURLFormatter
	}

	s.mu.RLock()
	owned := funk.Filter(
		funk.Values(s.urls),
		func(shortURL *models.ShortURL) bool { return shortURL.CreatedBy == uid },
	).([]*models.ShortURL)
	result := funk.Map(owned, func(shortURL *models.ShortURL) models.UserURL {
		return models.UserURL{
			ShortURL:    formatter(shortURL.Short),
			OriginalURL: shortURL.Long,
			Clicks:      shortURL.Clicks,
			CreatedAt:   shortURL.CreatedAt,
		}
	}).([]models.UserURL)
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ShortURL < result[j].ShortURL
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (s *MemoryStorage) AddClicks(ctx context.Context, clicks map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for short, n := range clicks {
		if shortURL, found := s.urls[short]; found {
			shortURL.Clicks += n
		}
	}
	return nil
}

func (s *MemoryStorage) GetNumberOfShortenedURLs(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.urls)), nil
}

func (s *MemoryStorage) GetNumberOfUsers(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

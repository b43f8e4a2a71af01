package progress

import (
	"context"
	"log/slog"
	"time"
)

// Cache is the subset of the platform cache used for progress records.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	Version(ctx context.Context, versionKey string) (int64, error)
	SetJSONIfVersion(ctx context.Context, key string, v any, ttl time.Duration, versionKey string, version int64) (bool, error)
	Invalidate(ctx context.Context, versionKey string, keys ...string) error
}

// CachedStore puts a read-through cache in front of a Store. Update always
// goes to the underlying store and invalidates the cached record afterwards,
// so the cache never decides the outcome of a write. A fill only lands if no
// Update invalidated the key since the fill began reading. Cache failures are
// logged and fall back to the store.
type CachedStore struct {
	Store
	cache Cache
	ttl   time.Duration
}

// NewCachedStore wraps store. A non-positive ttl defaults to one minute.
func NewCachedStore(store Store, cache Cache, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedStore{Store: store, cache: cache, ttl: ttl}
}

func cacheKey(studentID, chapterID string) string {
	return "progress:" + studentID + ":" + chapterID
}

func versionKey(studentID, chapterID string) string {
	return "progress:ver:" + studentID + ":" + chapterID
}

func (s *CachedStore) Get(ctx context.Context, studentID, chapterID string) (Progress, error) {
	k := cacheKey(studentID, chapterID)

	var p Progress
	hit, err := s.cache.GetJSON(ctx, k, &p)
	if err != nil {
		slog.Warn("progress cache read failed", "key", k, "error", err)
	}
	if hit {
		return p, nil
	}

	// Read the version before the store so an Update that commits in
	// between is detected at fill time.
	vk := versionKey(studentID, chapterID)
	version, verr := s.cache.Version(ctx, vk)
	if verr != nil {
		slog.Warn("progress cache version read failed", "key", vk, "error", verr)
	}

	p, err = s.Store.Get(ctx, studentID, chapterID)
	if err != nil {
		return Progress{}, err
	}
	if verr != nil {
		return p, nil
	}

	stored, err := s.cache.SetJSONIfVersion(ctx, k, p, s.ttl, vk, version)
	if err != nil {
		slog.Warn("progress cache write failed", "key", k, "error", err)
	} else if !stored {
		slog.Debug("progress cache fill skipped after concurrent update", "key", k)
	}
	return p, nil
}

func (s *CachedStore) Update(ctx context.Context, studentID, chapterID string, fn func(*Progress) error) (Progress, error) {
	p, err := s.Store.Update(ctx, studentID, chapterID, fn)
	if err != nil {
		return Progress{}, err
	}
	if err := s.cache.Invalidate(ctx, versionKey(studentID, chapterID), cacheKey(studentID, chapterID)); err != nil {
		slog.Warn("progress cache invalidation failed", "student_id", studentID, "chapter_id", chapterID, "error", err)
	}
	return p, nil
}

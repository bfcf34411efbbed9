package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is not found in cache
var ErrCacheMiss = errors.New("cache miss")

// Cache defines the cache interface
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, pattern string) error
	Ping(ctx context.Context) error
	Close() error
}

// AEKey generates the cache key for a known AE lookup
func AEKey(aeTitle string) string {
	return "ae:" + aeTitle
}

// StudyCountsKey generates the cache key for study-level counts
func StudyCountsKey(studyUID string) string {
	return "counts:study:" + studyUID
}

// SeriesCountKey generates the cache key for a series instance count
func SeriesCountKey(seriesUID string) string {
	return "counts:series:" + seriesUID
}

// StudyModalitiesKey generates the cache key for a study's modality list
func StudyModalitiesKey(studyUID string) string {
	return "modalities:study:" + studyUID
}

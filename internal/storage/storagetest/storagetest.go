// Package storagetest provides a Redis-backed store for package tests.
package storagetest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/goodtune/screentime/internal/storage/redis"
)

// NewStore starts an in-process Redis and returns a store backed by it.
// Both are closed when the test ends.
func NewStore(t testing.TB) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	store := redis.New(client, "test")
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store, mr
}

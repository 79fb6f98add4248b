// Package evalcache remembers judge-model votes so a repeated (question, document)
// pair never pays for a second evaluation.
package evalcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

type Store interface {
	Get(ctx context.Context, key string) ([]string, bool, error)
	Put(ctx context.Context, key string, votes []string) error
}

// Key hashes everything that can change a verdict. Parts are length-prefixed so
// ("ab","c") and ("a","bc") never collide.
func Key(question, content, model string, checks int) string {
	h := sha256.New()
	for _, part := range []string{question, content, model, strconv.Itoa(checks)} {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{':'})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type Cache struct {
	store Store
	group singleflight.Group
}

func New(store Store) *Cache { return &Cache{store: store} }

// GetOrCompute returns cached votes or runs compute once per key, even when several
// goroutines ask for the same key at the same time. hit is false only for the caller
// whose compute actually ran. The shared compute ignores the first caller's
// cancellation so the callers waiting on it are not failed by it.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) ([]string, error)) (votes []string, hit bool, err error) {
	computed := false
	ctx = context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key, func() (any, error) {
		if votes, ok, err := c.store.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return votes, nil
		}
		votes, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store.Put(ctx, key, votes); err != nil {
			return nil, err
		}
		computed = true
		return votes, nil
	})
	if err != nil {
		return nil, false, err
	}
	return append([]string(nil), v.([]string)...), !computed, nil
}

// Memory is a process-local Store.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]string
}

func NewMemory() *Memory { return &Memory{m: make(map[string][]string)} }

func (s *Memory) Get(_ context.Context, key string) ([]string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return append([]string(nil), v...), ok, nil
}

func (s *Memory) Put(_ context.Context, key string, votes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]string(nil), votes...)
	return nil
}

func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Package cache stores step outputs so identical step invocations can be skipped.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/kbforge/kbforge/pkg/models"
)

// Cache is a byte store with per-entry expiry.
type Cache interface {
	// Get returns the value and true, or false on a miss
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value; ttl of 0 keeps it until evicted
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
	Close() error
}

// Key derives a cache key from the step kind and its inputs. Map keys are
// sorted by encoding/json so equal inputs hash equally.
func Key(stepType models.StepType, inputs map[string]any) (string, error) {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "", models.WrapError(models.ErrSerialization, "failed to encode step inputs", err)
	}

	digest := xxhash.New()
	_, _ = digest.WriteString(string(stepType))
	_, _ = digest.Write([]byte{0})
	_, _ = digest.Write(data)

	return fmt.Sprintf("kbforge:step:%s:%s", stepType, strconv.FormatUint(digest.Sum64(), 16)), nil
}

type item struct {
	value   []byte
	expires time.Time
}

// Memory is a process-local Cache.
type Memory struct {
	mu    sync.Mutex
	items map[string]item
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]item), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}

	if !it.expires.IsZero() && m.now().After(it.expires) {
		delete(m.items, key)

		return nil, false, nil
	}

	return it.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := item{value: value}
	if ttl > 0 {
		it.expires = m.now().Add(ttl)
	}

	m.items[key] = it

	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)

	return nil
}

func (m *Memory) Close() error {
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MRamiBalles/mementos/server/internal/platform/logger"
)

// Customization keys accepted by the desktop.
const (
	KeyDesktopBackground = "desktopBackground"
	KeyProfilePicture    = "profilePicture"
)

// ErrUnknownKey rejects anything but the two customization keys.
var ErrUnknownKey = errors.New("unknown customization key")

// MaxBlobSize bounds an uploaded image.
const MaxBlobSize = 8 << 20

// ValidKey reports whether key is one of the customization keys.
func ValidKey(key string) bool {
	return key == KeyDesktopBackground || key == KeyProfilePicture
}

// MemoryCustomizationStore keeps blobs for the lifetime of the process.
type MemoryCustomizationStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryCustomizationStore() *MemoryCustomizationStore {
	return &MemoryCustomizationStore{values: make(map[string][]byte)}
}

func (m *MemoryCustomizationStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryCustomizationStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryCustomizationStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Customization wraps a store for the desktop. Storage failures are logged
// and swallowed: the player sees the default image instead of an error.
type Customization struct {
	store   CustomizationStore
	logger  *logger.Logger
	timeout time.Duration
}

func NewCustomization(store CustomizationStore, log *logger.Logger) *Customization {
	return &Customization{store: store, logger: log, timeout: 2 * time.Second}
}

// Get returns the stored blob or nil when unset, unknown or unreadable.
func (c *Customization) Get(ctx context.Context, key string) []byte {
	if !ValidKey(key) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("customization read failed", "key", key, "error", err)
		}
		return nil
	}
	return v
}

// Set stores a blob. Only an unknown key or an oversized blob is reported
// back to the caller.
func (c *Customization) Set(ctx context.Context, key string, value []byte) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if len(value) > MaxBlobSize {
		return fmt.Errorf("%s: blob of %d bytes exceeds %d", key, len(value), MaxBlobSize)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.store.Set(ctx, key, value); err != nil {
		c.logger.Warn("customization write failed", "key", key, "error", err)
	}
	return nil
}

// Reset removes a blob so the default image is shown again.
func (c *Customization) Reset(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("customization reset failed", "key", key, "error", err)
	}
	return nil
}

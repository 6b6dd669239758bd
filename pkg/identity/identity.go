// Package identity supplies the local ephemeral identifier that the engine advertises to peers.
//
// Generating and rotating identifiers is the job of an external component. The sources in this
// package read whatever that component last published, or produce throwaway identifiers for
// development.
package identity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/99designs/keyring"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/protocol"
)

// Source returns the current local ephemeral identifier. Implementations must be safe for
// concurrent use. protocol.ErrNoIdentifier signals that no identifier is available yet.
type Source interface {
	Current() (string, error)
}

// Static is a Source that always returns the same identifier.
type Static string

func (s Static) Current() (string, error) {
	if s == "" {
		return "", protocol.ErrNoIdentifier
	}
	return string(s), nil
}

// DefaultRotation is how often a RandomSource replaces its identifier.
const DefaultRotation = 15 * time.Minute

// RandomSource issues random UUIDs and replaces them every Rotation. It provides no unlinkability
// guarantees and is only meant for development and testing.
type RandomSource struct {
	Rotation time.Duration

	clock   clock.Clock
	lock    sync.Mutex
	current string
	issued  time.Time
}

// NewRandomSource returns a RandomSource using c. A nil clock selects the wall clock and a
// non-positive rotation selects DefaultRotation.
func NewRandomSource(c clock.Clock, rotation time.Duration) *RandomSource {
	if c == nil {
		c = clock.New()
	}
	if rotation <= 0 {
		rotation = DefaultRotation
	}
	return &RandomSource{Rotation: rotation, clock: c}
}

func (r *RandomSource) Current() (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	now := r.clock.Now()
	if r.current == "" || now.Sub(r.issued) >= r.Rotation {
		r.current = uuid.NewString()
		r.issued = now
		log.Debug("Rotated ephemeral identifier")
	}
	return r.current, nil
}

// DefaultRefresh is how long a KeyringSource reuses an identifier before reading the keyring
// again.
const DefaultRefresh = time.Minute

// KeyringSource reads the identifier from an OS credential store entry that the identifier
// generator keeps up to date.
type KeyringSource struct {
	Key     string
	Refresh time.Duration

	ring    keyring.Keyring
	clock   clock.Clock
	lock    sync.Mutex
	current string
	loaded  time.Time
}

// NewKeyringSource returns a KeyringSource reading key from ring.
func NewKeyringSource(ring keyring.Keyring, key string, c clock.Clock) *KeyringSource {
	if c == nil {
		c = clock.New()
	}
	return &KeyringSource{Key: key, Refresh: DefaultRefresh, ring: ring, clock: c}
}

// Current returns the cached identifier, reloading it from the keyring once it is older than
// Refresh. If the reload fails the cached identifier is kept.
func (k *KeyringSource) Current() (string, error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	now := k.clock.Now()
	if k.current != "" && now.Sub(k.loaded) < k.Refresh {
		return k.current, nil
	}
	item, err := k.ring.Get(k.Key)
	if err != nil {
		if k.current != "" {
			log.Warning("Keeping previous ephemeral identifier: %s", err)
			k.loaded = now
			return k.current, nil
		}
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", protocol.ErrNoIdentifier
		}
		return "", fmt.Errorf("could not load ephemeral identifier: %w", err)
	}
	if len(item.Data) == 0 {
		return "", protocol.ErrNoIdentifier
	}
	k.current = string(item.Data)
	k.loaded = now
	return k.current, nil
}

// Publish stores id in the keyring, making it the identifier returned by subsequent calls to
// Current.
func (k *KeyringSource) Publish(id string) error {
	if id == "" {
		return protocol.ErrNoIdentifier
	}
	if err := k.ring.Set(keyring.Item{Key: k.Key, Data: []byte(id)}); err != nil {
		return fmt.Errorf("failed to store ephemeral identifier: %w", err)
	}
	k.lock.Lock()
	k.current = id
	k.loaded = k.clock.Now()
	k.lock.Unlock()
	return nil
}

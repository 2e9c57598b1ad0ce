package registry

import (
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNoKeyAvailable is returned when every credential for a provider is
// quarantined or the pool is empty.
var ErrNoKeyAvailable = eris.New("registry: no key available")

// Keyring rotates among multiple credentials per provider and quarantines
// keys that fail. Quarantined keys return to rotation only through an
// explicit ResetFailed — a quarantined key may be permanently invalid, so
// recovery is a manual operator decision, never automatic.
type Keyring struct {
	mu    sync.Mutex
	pools map[string]*credentialPool
}

type credentialPool struct {
	keys        []string
	next        int
	quarantined map[string]bool
	failures    map[string]int
	threshold   int
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{pools: make(map[string]*credentialPool)}
}

// SetKeys installs the ordered credential list for a provider, replacing any
// existing pool and clearing quarantine state.
func (k *Keyring) SetKeys(provider string, keys []string) {
	k.SetKeysWithThreshold(provider, keys, 1)
}

// SetKeysWithThreshold installs credentials with a per-key failure threshold.
func (k *Keyring) SetKeysWithThreshold(provider string, keys []string, threshold int) {
	if threshold < 1 {
		threshold = 1
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pools[provider] = &credentialPool{
		keys:        append([]string(nil), keys...),
		quarantined: make(map[string]bool),
		failures:    make(map[string]int),
		threshold:   threshold,
	}
}

// NextKey returns the next active credential for a provider in round-robin
// order, skipping quarantined keys. Safe for concurrent callers.
func (k *Keyring) NextKey(provider string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	pool, ok := k.pools[provider]
	if !ok || len(pool.keys) == 0 {
		return "", eris.Wrapf(ErrNoKeyAvailable, "%s", provider)
	}

	for i := 0; i < len(pool.keys); i++ {
		key := pool.keys[pool.next%len(pool.keys)]
		pool.next++
		if !pool.quarantined[key] {
			return key, nil
		}
	}
	return "", eris.Wrapf(ErrNoKeyAvailable, "%s", provider)
}

// MarkFailed records a failure for a credential and quarantines it once the
// pool's threshold is reached.
func (k *Keyring) MarkFailed(provider, key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	pool, ok := k.pools[provider]
	if !ok {
		return
	}
	pool.failures[key]++
	if pool.failures[key] >= pool.threshold && !pool.quarantined[key] {
		pool.quarantined[key] = true
		zap.L().Warn("credential quarantined",
			zap.String("provider", provider),
			zap.Int("failures", pool.failures[key]),
			zap.Int("active_remaining", countActive(pool)),
		)
	}
}

// ResetFailed returns every quarantined credential for a provider to
// rotation, restarting selection from the original order.
func (k *Keyring) ResetFailed(provider string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	pool, ok := k.pools[provider]
	if !ok {
		return
	}
	pool.quarantined = make(map[string]bool)
	pool.failures = make(map[string]int)
	pool.next = 0
	zap.L().Info("credentials reset", zap.String("provider", provider))
}

// HasActive reports whether a provider has at least one non-quarantined key.
func (k *Keyring) HasActive(provider string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	pool, ok := k.pools[provider]
	if !ok {
		return false
	}
	return countActive(pool) > 0
}

func countActive(pool *credentialPool) int {
	n := 0
	for _, key := range pool.keys {
		if !pool.quarantined[key] {
			n++
		}
	}
	return n
}

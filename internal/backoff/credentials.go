package backoff

import "sync"

// CredentialPool holds an ordered set of opaque credentials and rotates
// through them under quota pressure. Within one rotation cycle a credential
// is never revisited while another credential is still untried, which spreads
// load across the whole pool before any key repeats.
//
// The pool is shared by every concurrent user of a client; all rotation state
// is guarded by the mutex and must never be read or written around it.
type CredentialPool struct {
	mu      sync.Mutex
	keys    []string
	current int
	used    map[int]bool
}

// NewCredentialPool creates a pool starting at the first key with a fresh
// rotation cycle. Panics on an empty key list: a client without credentials
// is a configuration error, not a runtime condition.
func NewCredentialPool(keys []string) *CredentialPool {
	if len(keys) == 0 {
		panic("backoff: credential pool requires at least one key")
	}
	copied := make([]string, len(keys))
	copy(copied, keys)
	return &CredentialPool{
		keys: copied,
		used: make(map[int]bool),
	}
}

// Current returns the credential in use.
func (p *CredentialPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[p.current]
}

// Size returns the number of credentials in the pool.
func (p *CredentialPool) Size() int {
	return len(p.keys)
}

// Rotate marks the current credential as consumed and switches to the first
// unused credential in order. When every credential in the cycle has been
// consumed, the used set is cleared and the pool advances to the next index
// modulo pool size, marking it used to open the new cycle. Returns the newly
// selected credential.
func (p *CredentialPool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.used[p.current] = true

	for i := range p.keys {
		if !p.used[i] {
			p.current = i
			return p.keys[i]
		}
	}

	// Full cycle exhausted: start a new one.
	p.used = make(map[int]bool)
	p.current = (p.current + 1) % len(p.keys)
	p.used[p.current] = true
	return p.keys[p.current]
}

package pool

import (
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
)

// registry holds the canonical set of relays keyed by normalized URL,
// the same keyed-map shape the teacher's own SimplePool uses for its
// Relays field, swapped here for xsync.MapOf so snapshotting never
// takes an explicit registry-wide lock.
type registry struct {
	relays *xsync.MapOf[string, RelayHandle]
}

func newRegistry() *registry {
	return &registry{relays: xsync.NewMapOf[string, RelayHandle]()}
}

// add inserts handle under its URL if and only if no entry already
// exists there. It reports whether the insertion happened.
func (r *registry) add(handle RelayHandle) bool {
	_, loaded := r.relays.LoadOrStore(handle.URL(), handle)
	return !loaded
}

// remove deletes the entry for url, returning the removed handle and
// whether anything was removed. A missing URL is not an error.
func (r *registry) remove(url string) (RelayHandle, bool) {
	return r.relays.LoadAndDelete(url)
}

// get looks up the handle registered under url.
func (r *registry) get(url string) (RelayHandle, bool) {
	return r.relays.Load(url)
}

// snapshot returns a shallow copy of every registered handle, safe to
// range over without holding any registry-internal lock.
func (r *registry) snapshot() []RelayHandle {
	out := make([]RelayHandle, 0, r.relays.Size())
	r.relays.Range(func(_ string, h RelayHandle) bool {
		out = append(out, h)
		return true
	})
	return out
}

// snapshotByRole returns every registered handle whose role is
// contained in roles.
func (r *registry) snapshotByRole(roles []RelayRole) []RelayHandle {
	all := r.snapshot()
	return lo.Filter(all, func(h RelayHandle, _ int) bool {
		return lo.Contains(roles, h.Role())
	})
}

// size reports the number of registered relays.
func (r *registry) size() int {
	return r.relays.Size()
}

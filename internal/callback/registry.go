package callback

import (
	"sync"
	"sync/atomic"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
)

// Handle identifies one registration. Handles are opaque and allocated
// monotonically, so unregistering one callback never invalidates another's
// identity.
type Handle uint64

// Func is a reactive predicate over the live measurement table. It receives
// the channel, the current snapshot, and its own handle so it can
// unregister itself without capturing state that might not be published yet.
type Func func(ch domain.ChannelID, snap domain.Snapshot, self Handle)

// Registration pairs a handle with its callback, as exposed to ForEach.
type Registration struct {
	Handle Handle
	Fn     Func
}

// Registry keeps a per-channel ordered sequence of callbacks. Each channel
// is guarded by its own mutex; iteration copies the sequence so callbacks
// can mutate the registry without deadlocking or perturbing the cycle in
// flight.
type Registry struct {
	next  atomic.Uint64
	chans [domain.MaxChannels]channelCallbacks
}

type channelCallbacks struct {
	mu      sync.Mutex
	entries []Registration
}

func New() *Registry {
	return &Registry{}
}

// Register appends the callback for the channel and returns its handle.
// Callbacks are evaluated in registration order; one registered from inside
// a callback takes effect on the next evaluation cycle.
func (r *Registry) Register(ch domain.ChannelID, fn Func) (Handle, error) {
	if !ch.Valid() {
		return 0, domain.ErrChannelRange
	}
	h := Handle(r.next.Add(1))
	cc := &r.chans[ch]
	cc.mu.Lock()
	cc.entries = append(cc.entries, Registration{Handle: h, Fn: fn})
	cc.mu.Unlock()
	return h, nil
}

// Unregister removes the callback with the given handle. Removing a handle
// that is absent (already removed, or never issued for this channel) is a
// no-op.
func (r *Registry) Unregister(ch domain.ChannelID, h Handle) error {
	if !ch.Valid() {
		return domain.ErrChannelRange
	}
	cc := &r.chans[ch]
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for i, e := range cc.entries {
		if e.Handle == h {
			cc.entries = append(cc.entries[:i], cc.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// UnregisterAll removes every callback for the channel.
func (r *Registry) UnregisterAll(ch domain.ChannelID) error {
	if !ch.Valid() {
		return domain.ErrChannelRange
	}
	cc := &r.chans[ch]
	cc.mu.Lock()
	cc.entries = nil
	cc.mu.Unlock()
	return nil
}

// Len reports the number of callbacks registered for the channel.
func (r *Registry) Len(ch domain.ChannelID) int {
	if !ch.Valid() {
		return 0
	}
	cc := &r.chans[ch]
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.entries)
}

// ForEach invokes fn on a snapshot of the channel's registrations, in
// registration order. Mutations made during the iteration affect the
// canonical sequence, not the snapshot being walked.
func (r *Registry) ForEach(ch domain.ChannelID, fn func(Registration)) {
	if !ch.Valid() {
		return
	}
	cc := &r.chans[ch]
	cc.mu.Lock()
	snap := make([]Registration, len(cc.entries))
	copy(snap, cc.entries)
	cc.mu.Unlock()
	for _, e := range snap {
		fn(e)
	}
}

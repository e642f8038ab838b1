// Package presence maintains a best-effort set of currently-connected user
// ids, shared across server instances through the realtime bus plus a
// TTL-keyed Redis registry. Membership is a live approximation for UI hints
// and email gating only; it never gates message delivery.
package presence

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pawnecta/messaging/internal/metrics"
	"github.com/pawnecta/messaging/internal/realtime"
)

// DefaultInterval is the heartbeat interval: a disconnected user disappears
// from every peer's set within one interval.
const DefaultInterval = 30 * time.Second

// Bus is the slice of the realtime bus the tracker needs. Satisfied by
// *realtime.Bus.
type Bus interface {
	PublishPresenceEvent(ev realtime.PresenceEvent) error
	SubscribePresence(key string, handler func(realtime.PresenceEvent)) error
	UnsubscribePresence(key string) error
}

// Registry is the shared ephemeral membership store. Entries expire on their
// own so a crashed client drops out without an explicit leave.
type Registry interface {
	Put(ctx context.Context, userID string, ttl time.Duration) error
	Remove(ctx context.Context, userID string) error
	Members(ctx context.Context) ([]string, error)
}

// Tracker is one session's view of the shared online set. It is constructed
// explicitly at session start and closed at session end; nothing about it is
// ambient or global.
type Tracker struct {
	bus      Bus
	registry Registry
	selfID   string
	subKey   string
	interval time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
	tracking bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates a tracker for the given user. selfID may be empty for a
// server-side observer that only reads the set.
func NewTracker(bus Bus, registry Registry, selfID string, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		bus:      bus,
		registry: registry,
		selfID:   selfID,
		subKey:   fmt.Sprintf("presence-%s-%d", selfID, time.Now().UnixNano()),
		interval: interval,
		lastSeen: make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to presence events, loads the current member set from the
// registry, and starts the staleness sweep.
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.bus.SubscribePresence(t.subKey, t.handleEvent); err != nil {
		return fmt.Errorf("presence: subscribe: %w", err)
	}

	if err := t.resync(ctx); err != nil {
		// A failed initial sync leaves an empty set; join/heartbeat events
		// and later sweeps repopulate it.
		log.Printf("[presence] initial sync failed: %v", err)
	}

	t.wg.Add(1)
	go t.sweepLoop()
	return nil
}

// Track announces this session's own user as online and starts the heartbeat
// loop. No-op if already tracking or if the tracker has no own user.
func (t *Tracker) Track(ctx context.Context) error {
	if t.selfID == "" {
		return nil
	}
	t.mu.Lock()
	if t.tracking {
		t.mu.Unlock()
		return nil
	}
	t.tracking = true
	t.mu.Unlock()

	if err := t.registry.Put(ctx, t.selfID, t.interval); err != nil {
		return fmt.Errorf("presence: track: %w", err)
	}
	t.publish(realtime.PresenceJoin)
	t.observe(t.selfID)

	t.wg.Add(1)
	go t.heartbeatLoop()
	return nil
}

// Untrack announces this session's user as offline. The transport would drop
// the membership on disconnect anyway (registry TTL), but an explicit leave
// propagates immediately.
func (t *Tracker) Untrack(ctx context.Context) {
	if t.selfID == "" {
		return
	}
	t.mu.Lock()
	wasTracking := t.tracking
	t.tracking = false
	delete(t.lastSeen, t.selfID)
	t.mu.Unlock()
	if !wasTracking {
		return
	}

	if err := t.registry.Remove(ctx, t.selfID); err != nil {
		log.Printf("[presence] remove %s: %v", t.selfID, err)
	}
	t.publish(realtime.PresenceLeave)
	t.updateGauge()
}

// Online reports whether the user is currently in the live set.
func (t *Tracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen, ok := t.lastSeen[userID]
	return ok && time.Since(seen) <= t.interval
}

// Snapshot returns the current member set.
func (t *Tracker) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	members := make([]string, 0, len(t.lastSeen))
	for id, seen := range t.lastSeen {
		if time.Since(seen) <= t.interval {
			members = append(members, id)
		}
	}
	return members
}

// Close untracks, unsubscribes, and stops all loops.
func (t *Tracker) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Untrack(ctx)
	cancel()

	t.cancel()
	t.wg.Wait()

	if err := t.bus.UnsubscribePresence(t.subKey); err != nil {
		log.Printf("[presence] unsubscribe: %v", err)
	}
}

func (t *Tracker) handleEvent(ev realtime.PresenceEvent) {
	switch ev.Kind {
	case realtime.PresenceJoin, realtime.PresenceHeartbeat:
		t.observe(ev.UserID)
	case realtime.PresenceLeave:
		t.mu.Lock()
		delete(t.lastSeen, ev.UserID)
		t.mu.Unlock()
		t.updateGauge()
	}
}

func (t *Tracker) observe(userID string) {
	t.mu.Lock()
	t.lastSeen[userID] = time.Now()
	t.mu.Unlock()
	t.updateGauge()
}

// heartbeatLoop refreshes the registry TTL and re-announces liveness at
// half the staleness interval so a single delayed beat doesn't flap.
func (t *Tracker) heartbeatLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			tracking := t.tracking
			t.mu.Unlock()
			if !tracking {
				return
			}

			ctx, cancel := context.WithTimeout(t.ctx, t.interval/2)
			if err := t.registry.Put(ctx, t.selfID, t.interval); err != nil {
				log.Printf("[presence] heartbeat put: %v", err)
			}
			cancel()
			t.publish(realtime.PresenceHeartbeat)
			t.observe(t.selfID)
		}
	}
}

// sweepLoop drops members whose last heartbeat is older than one interval
// and periodically resyncs wholesale from the registry to recover from
// missed events.
func (t *Tracker) sweepLoop() {
	defer t.wg.Done()

	sweep := time.NewTicker(t.interval / 4)
	defer sweep.Stop()

	ticks := 0
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-sweep.C:
			t.sweep()
			ticks++
			if ticks%8 == 0 {
				ctx, cancel := context.WithTimeout(t.ctx, t.interval)
				if err := t.resync(ctx); err != nil {
					log.Printf("[presence] resync: %v", err)
				}
				cancel()
			}
		}
	}
}

func (t *Tracker) sweep() {
	cutoff := time.Now().Add(-t.interval)
	t.mu.Lock()
	for id, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			delete(t.lastSeen, id)
		}
	}
	t.mu.Unlock()
	t.updateGauge()
}

// resync replaces the member set wholesale from the registry, keeping
// fresher event-derived timestamps where they exist.
func (t *Tracker) resync(ctx context.Context) error {
	members, err := t.registry.Members(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	t.mu.Lock()
	fresh := make(map[string]time.Time, len(members))
	for _, id := range members {
		if seen, ok := t.lastSeen[id]; ok {
			fresh[id] = seen
		} else {
			fresh[id] = now
		}
	}
	t.lastSeen = fresh
	t.mu.Unlock()
	t.updateGauge()
	return nil
}

func (t *Tracker) publish(kind string) {
	err := t.bus.PublishPresenceEvent(realtime.PresenceEvent{
		Kind:   kind,
		UserID: t.selfID,
		At:     time.Now().Unix(),
	})
	if err != nil {
		log.Printf("[presence] publish %s: %v", kind, err)
	}
}

func (t *Tracker) updateGauge() {
	t.mu.Lock()
	n := len(t.lastSeen)
	t.mu.Unlock()
	metrics.OnlineUsers.Set(float64(n))
}

package tabsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/stash/pkg/store"
)

// Resolver reconciles a remote state with the local one under the merge
// and ask-user strategies. It receives the local snapshot and the
// incoming remote state and returns the state to adopt.
type Resolver func(local, remote any) any

// Callback receives reconciled external updates. A nil data means the
// remote context cleared the key.
type Callback func(data any, source Source)

// Config describes one sync manager. Key and either Bus or a watchable
// Store are required for the manager to do anything useful; with neither
// the manager constructs fine and simply never delivers (soft-fail,
// mirroring environments without a broadcast channel).
type Config struct {
	Key     string
	Channel string // bus channel; DefaultChannel when empty
	Bus     Bus
	Store   store.Store // watch fallback when it implements store.Watcher

	Strategy ConflictStrategy
	Resolver Resolver
	// LocalState supplies the current local state snapshot at
	// message-arrival time, so Resolver can see both sides.
	LocalState func() any

	// Decode turns a raw stored value back into the envelope shape; used
	// by the store-watch path. Typically transform.Pipeline.Decode.
	Decode func(raw string) (any, bool)

	// OnSync is notified after every delivered external update.
	OnSync func(data any, source Source)
}

// Manager is the per-key sync endpoint of one context. Each manager owns
// a random tab id used purely to discard its own bus messages.
type Manager struct {
	cfg   Config
	tabID string

	mu             sync.Mutex
	cb             Callback
	onRequest      func()
	recentWrites   []string
	pendingRemoves int

	sub       *Subscription
	stopWatch func()
	cancel    context.CancelFunc
	destroy   sync.Once
}

// NewManager starts a sync manager. The bus subscription and the store
// watch are both optional: whichever is available is attached, failures
// are soft (sync degrades, the form keeps working).
func NewManager(ctx context.Context, cfg Config) *Manager {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	m := &Manager{cfg: cfg, tabID: uuid.New().String()}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if cfg.Bus != nil {
		if sub, err := cfg.Bus.Subscribe(runCtx, cfg.Channel); err == nil {
			m.sub = sub
			go m.busLoop(runCtx)
		}
	}

	if w, ok := cfg.Store.(store.Watcher); ok {
		if events, stop, err := w.Watch(runCtx, cfg.Key); err == nil {
			m.stopWatch = stop
			go m.watchLoop(runCtx, events)
		}
	}

	return m
}

// TabID returns this context's random identifier.
func (m *Manager) TabID() string {
	return m.tabID
}

// OnUpdate registers the update callback. Single slot: the last
// registration wins.
func (m *Manager) OnUpdate(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb = cb
}

// OnRequest registers the handler invoked when a peer asks for a
// re-broadcast. Single slot.
func (m *Manager) OnRequest(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRequest = fn
}

// maxRecentWrites bounds the unmatched self-write notes kept for echo
// suppression. Echoes normally arrive promptly; anything beyond this many
// in-flight writes is a pathological burst and the oldest note is dropped.
const maxRecentWrites = 8

// NoteWrite records a raw value this context is about to persist, so the
// store-watch path can ignore the echo of our own write. A store watch
// sees every write including our own; each note suppresses exactly one
// matching event. Keeping the last few notes (not just one) covers rapid
// successive writes whose echoes arrive after a newer note replaced them.
func (m *Manager) NoteWrite(raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentWrites = append(m.recentWrites, raw)
	if len(m.recentWrites) > maxRecentWrites {
		m.recentWrites = m.recentWrites[1:]
	}
}

// NoteRemove records that this context is about to remove the stored key,
// so the removal echo from the store watch is not delivered back as an
// external clear. Each note suppresses exactly one removal event.
func (m *Manager) NoteRemove() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingRemoves++
}

// Broadcast posts an update message with this context's tab id.
// Best-effort: the error is returned for logging but peers that miss the
// message will still converge through the storage layer.
func (m *Manager) Broadcast(ctx context.Context, data any) error {
	return m.publish(ctx, &Message{
		Type:      TypeUpdate,
		Key:       m.cfg.Key,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		TabID:     m.tabID,
	})
}

// BroadcastClear announces that this context removed the stored state.
func (m *Manager) BroadcastClear(ctx context.Context) error {
	return m.publish(ctx, &Message{
		Type:      TypeClear,
		Key:       m.cfg.Key,
		Timestamp: time.Now().UnixMilli(),
		TabID:     m.tabID,
	})
}

// RequestSync asks peers to re-broadcast their current state. Peers
// answer with an ordinary update message; there is no dedicated response
// protocol.
func (m *Manager) RequestSync(ctx context.Context) error {
	return m.publish(ctx, &Message{
		Type:      TypeRequest,
		Key:       m.cfg.Key,
		Timestamp: time.Now().UnixMilli(),
		TabID:     m.tabID,
	})
}

func (m *Manager) publish(ctx context.Context, msg *Message) error {
	if m.cfg.Bus == nil {
		return nil
	}
	return m.cfg.Bus.Publish(ctx, m.cfg.Channel, msg)
}

// Destroy stops the bus subscription and store watch and drops the
// callbacks. Idempotent: safe to call twice.
func (m *Manager) Destroy() {
	m.destroy.Do(func() {
		if m.sub != nil {
			m.sub.Close()
		}
		if m.stopWatch != nil {
			m.stopWatch()
		}
		m.cancel()

		m.mu.Lock()
		m.cb = nil
		m.onRequest = nil
		m.mu.Unlock()
	})
}

func (m *Manager) busLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.sub.Messages():
			if !ok {
				return
			}
			m.handleMessage(msg)
		}
	}
}

func (m *Manager) handleMessage(msg *Message) {
	if msg.TabID == m.tabID || msg.Key != m.cfg.Key {
		return
	}

	switch msg.Type {
	case TypeUpdate:
		if msg.Data == nil {
			return
		}
		m.deliver(m.resolve(msg.Data), SourceBroadcast)
	case TypeClear:
		m.deliver(nil, SourceBroadcast)
	case TypeRequest:
		m.mu.Lock()
		fn := m.onRequest
		m.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

func (m *Manager) watchLoop(ctx context.Context, events <-chan store.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleStoreEvent(ev)
		}
	}
}

// handleStoreEvent mirrors the storage-event fallback: a removal means
// clear, anything else is parsed and treated as an update when it carries
// an envelope with a data field. Malformed values are dropped without any
// error surfacing.
func (m *Manager) handleStoreEvent(ev store.Event) {
	if ev.Key != m.cfg.Key {
		return
	}

	if ev.Removed {
		m.mu.Lock()
		if m.pendingRemoves > 0 {
			m.pendingRemoves--
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.deliver(nil, SourceStorage)
		return
	}

	m.mu.Lock()
	selfWrite := false
	for i, w := range m.recentWrites {
		if w == ev.Value {
			m.recentWrites = append(m.recentWrites[:i], m.recentWrites[i+1:]...)
			selfWrite = true
			break
		}
	}
	m.mu.Unlock()
	if selfWrite {
		return
	}

	if m.cfg.Decode == nil {
		return
	}
	decoded, ok := m.cfg.Decode(ev.Value)
	if !ok {
		return
	}
	env, ok := decoded.(map[string]any)
	if !ok {
		return
	}
	data, ok := env["data"]
	if !ok {
		return
	}
	m.deliver(m.resolve(data), SourceStorage)
}

// resolve dispatches the conflict strategy. LatestWins (and any strategy
// without a resolver) adopts the remote state as-is; merge and ask-user
// hand (local, remote) to the configured resolver.
func (m *Manager) resolve(remote any) any {
	switch m.cfg.Strategy {
	case MergeStrategy, AskUser:
		if m.cfg.Resolver != nil && m.cfg.LocalState != nil {
			return m.cfg.Resolver(m.cfg.LocalState(), remote)
		}
	}
	return remote
}

func (m *Manager) deliver(data any, source Source) {
	m.mu.Lock()
	cb := m.cb
	m.mu.Unlock()

	if cb != nil {
		cb(data, source)
	}
	if m.cfg.OnSync != nil {
		m.cfg.OnSync(data, source)
	}
}

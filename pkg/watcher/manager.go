package watcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/rs/zerolog"
)

// Callback receives a parameter change. It runs on the manager's receive
// goroutine, or on the AddWatcher caller's goroutine until the watcher has
// joined its group.
type Callback func(name, value string)

// Snapshot lists current parameters matching a prefix, used to replay
// state to a new watcher
type Snapshot interface {
	ListParameters(ctx context.Context, prefix string) ([]types.Entry, error)
}

// ErrStopped is returned by a manager after Stop
var ErrStopped = errors.New("watcher manager stopped")

// ManagerConfig configures a Manager
type ManagerConfig struct {
	SocketPath string
	// Snapshot replays current values to new watchers; nil disables replay
	Snapshot Snapshot
	// ReadTimeout is how long the receive loop blocks before checking for
	// shutdown
	ReadTimeout time.Duration
	// MaxRetries bounds consecutive reconnect attempts before backing off
	// for MaxBackoff
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	WriteTimeout time.Duration
	// Dial defaults to a unix socket dial of SocketPath
	Dial func() (net.Conn, error)
}

type watcher struct {
	id uint32
	cb Callback
	// until joined, changes for the group queue in pending while current
	// values are replayed
	joined  bool
	pending []Message
}

type group struct {
	id       uint32
	prefix   string
	watchers []*watcher
}

// Manager multiplexes a process's watchers over one connection to the
// watcher server. Watchers sharing a key prefix share a group; the server
// only knows groups.
type Manager struct {
	config ManagerConfig
	logger zerolog.Logger

	// mu guards the group maps and counters and is never held during I/O
	mu            sync.Mutex
	byPrefix      map[string]*group
	byID          map[uint32]*group
	nextGroupID   uint32
	nextWatcherID uint32
	stopped       bool

	// startMu guards started; the first dial happens under it
	startMu sync.Mutex
	started bool

	// connMu guards conn and serializes writes
	connMu sync.Mutex
	conn   net.Conn

	stopCh chan struct{}
	done   chan struct{}
}

// NewManager creates a manager. No connection is made until the first
// watcher is added.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.Dial == nil {
		path := cfg.SocketPath
		cfg.Dial = func() (net.Conn, error) {
			return net.DialTimeout("unix", path, 2*time.Second)
		}
	}
	return &Manager{
		config:   cfg,
		logger:   log.WithComponent("watcher"),
		byPrefix: make(map[string]*group),
		byID:     make(map[uint32]*group),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// AddWatcher registers cb for every change of a parameter matching prefix
// and returns the watcher id. Parameters that already match are replayed to
// cb before it starts receiving changes. Changes that arrive during the
// replay are delivered after it unless the replay already showed the same
// or a newer commit.
func (m *Manager) AddWatcher(prefix string, cb Callback) (uint32, error) {
	if err := types.ValidatePrefix(prefix); err != nil {
		return 0, err
	}
	if cb == nil {
		return 0, fmt.Errorf("callback is required")
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return 0, ErrStopped
	}
	g, exists := m.byPrefix[prefix]
	if !exists {
		m.nextGroupID++
		g = &group{id: m.nextGroupID, prefix: prefix}
		m.byPrefix[prefix] = g
		m.byID[g.id] = g
	}
	m.nextWatcherID++
	w := &watcher{id: m.nextWatcherID, cb: cb}
	g.watchers = append(g.watchers, w)
	m.mu.Unlock()

	if !exists {
		if err := m.ensureStarted(); err != nil {
			m.dropWatcher(g, w)
			return 0, err
		}
		m.send(Message{Type: MsgAddWatcher, ID: g.id, Name: prefix})
	}

	m.join(w, m.replay(prefix, cb))
	m.logger.Debug().Str("prefix", prefix).Uint32("group", g.id).Uint32("watcher", w.id).Msg("watcher added")
	return w.id, nil
}

// RemoveWatcher removes a watcher. Removing the last watcher of a prefix
// unregisters the group from the server.
func (m *Manager) RemoveWatcher(prefix string, id uint32) error {
	m.mu.Lock()
	g, ok := m.byPrefix[prefix]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no watchers for %q: %w", prefix, types.ErrNotFound)
	}
	idx := -1
	for i, w := range g.watchers {
		if w.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("watcher %d on %q: %w", id, prefix, types.ErrNotFound)
	}
	g.watchers = append(g.watchers[:idx:idx], g.watchers[idx+1:]...)
	last := len(g.watchers) == 0
	if last {
		delete(m.byPrefix, prefix)
		delete(m.byID, g.id)
	}
	m.mu.Unlock()

	if last {
		m.send(Message{Type: MsgDelWatcher, ID: g.id, Name: prefix})
		m.logger.Debug().Str("prefix", prefix).Uint32("group", g.id).Msg("watcher group removed")
	}
	return nil
}

// Groups returns the number of live groups
func (m *Manager) Groups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Stop closes the connection and waits for the receive loop to exit
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.startMu.Lock()
	started := m.started
	close(m.stopCh)
	m.startMu.Unlock()

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()
	if started {
		<-m.done
	}
}

// dropWatcher takes back a watcher that never joined, and its group when
// nothing else uses it
func (m *Manager) dropWatcher(g *group, w *watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range g.watchers {
		if x == w {
			g.watchers = append(g.watchers[:i:i], g.watchers[i+1:]...)
			break
		}
	}
	if m.byPrefix[g.prefix] == g && len(g.watchers) == 0 {
		delete(m.byPrefix, g.prefix)
		delete(m.byID, g.id)
	}
}

// join hands w the changes queued while it replayed, then lets dispatch
// call it directly. Changes queued meanwhile are picked up by the next
// round, so order is kept.
func (m *Manager) join(w *watcher, replayed map[string]uint32) {
	for {
		m.mu.Lock()
		pending := w.pending
		w.pending = nil
		if len(pending) == 0 {
			w.joined = true
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		for _, msg := range pending {
			if commit, ok := replayed[msg.Name]; ok && msg.Commit != 0 && msg.Commit <= commit {
				continue
			}
			w.cb(msg.Name, msg.Value)
		}
	}
}

// ensureStarted connects and starts the receive loop once
func (m *Manager) ensureStarted() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return nil
	}
	if m.isStopping() {
		return ErrStopped
	}
	conn, err := m.config.Dial()
	if err != nil {
		return fmt.Errorf("failed to connect to watcher server: %v: %w", err, types.ErrTransport)
	}
	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()
	m.started = true
	go m.run(conn)
	return nil
}

// send writes m on the current connection. Failures close the connection;
// the receive loop then reconnects and re-announces live groups.
func (m *Manager) send(msg Message) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return
	}
	m.conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	if err := WriteMessage(m.conn, msg); err != nil {
		m.logger.Warn().Err(err).Stringer("type", msg.Type).Uint32("group", msg.ID).Msg("failed to send watcher message")
		m.conn.Close()
	}
}

// replay delivers current values to cb and returns the commit id it
// delivered for each name
func (m *Manager) replay(prefix string, cb Callback) map[string]uint32 {
	if m.config.Snapshot == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := m.config.Snapshot.ListParameters(ctx, prefix)
	if err != nil {
		m.logger.Warn().Err(err).Str("prefix", prefix).Msg("failed to replay current parameters")
		return nil
	}
	replayed := make(map[string]uint32, len(entries))
	for _, e := range entries {
		if types.MatchPrefix(prefix, e.Name) {
			cb(e.Name, e.Value)
			replayed[e.Name] = e.CommitID
		}
	}
	return replayed
}

func (m *Manager) run(conn net.Conn) {
	defer close(m.done)
	fr := newFrameReader(conn)

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		msg, err := fr.Next()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if m.isStopping() {
				return
			}
			m.logger.Warn().Err(err).Msg("watcher connection lost, reconnecting")
			next, ok := m.reconnect()
			if !ok {
				return
			}
			conn = next
			fr.reset(conn)
			continue
		}

		if msg.Type != MsgNotifyParam {
			m.logger.Warn().Stringer("type", msg.Type).Msg("unexpected watcher message")
			continue
		}
		m.dispatch(msg)
	}
}

func (m *Manager) dispatch(msg Message) {
	m.mu.Lock()
	g, ok := m.byID[msg.ID]
	var ready []*watcher
	if ok && types.MatchPrefix(g.prefix, msg.Name) {
		for _, w := range g.watchers {
			if w.joined {
				ready = append(ready, w)
			} else {
				w.pending = append(w.pending, msg)
			}
		}
	}
	m.mu.Unlock()

	for _, w := range ready {
		w.cb(msg.Name, msg.Value)
	}
}

func (m *Manager) isStopping() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// reconnect dials until it succeeds or the manager stops. After MaxRetries
// consecutive failures it waits MaxBackoff before the next round; watchers
// miss changes until a connection is back.
func (m *Manager) reconnect() (net.Conn, bool) {
	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	backoff := m.config.RetryBackoff
	attempt := 0
	for {
		select {
		case <-m.stopCh:
			return nil, false
		case <-time.After(backoff):
		}

		conn, err := m.config.Dial()
		if err == nil {
			m.connMu.Lock()
			if m.isStopping() {
				m.connMu.Unlock()
				conn.Close()
				return nil, false
			}
			m.conn = conn
			m.connMu.Unlock()
			m.reannounce()
			m.logger.Info().Int("attempts", attempt+1).Msg("watcher connection restored")
			return conn, true
		}

		attempt++
		m.logger.Warn().Err(err).Int("attempt", attempt).Msg("watcher reconnect failed")
		if attempt%m.config.MaxRetries == 0 {
			m.logger.Error().Int("attempts", attempt).Dur("wait", m.config.MaxBackoff).Msg("watcher reconnect retries exhausted")
			backoff = m.config.MaxBackoff
			continue
		}
		backoff = min(backoff*2, m.config.MaxBackoff)
	}
}

// reannounce registers every live group on a fresh connection
func (m *Manager) reannounce() {
	m.mu.Lock()
	msgs := make([]Message, 0, len(m.byID))
	for _, g := range m.byID {
		msgs = append(msgs, Message{Type: MsgAddWatcher, ID: g.id, Name: g.prefix})
	}
	m.mu.Unlock()

	for _, msg := range msgs {
		m.send(msg)
	}
}

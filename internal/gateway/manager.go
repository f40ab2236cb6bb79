package gateway

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/victorivanov/readreceipts/internal/auth"
	"github.com/victorivanov/readreceipts/internal/database"
	"github.com/victorivanov/readreceipts/internal/metrics"
	"github.com/victorivanov/readreceipts/internal/models"
)

const (
	replayBufferSize         = 100
	defaultHeartbeatInterval = 41250 * time.Millisecond
)

// Manager manages all active WebSocket connections and event routing.
type Manager struct {
	mu            sync.RWMutex
	connections   map[string]*Connection     // userID → connection
	subscriptions map[string]map[string]bool // channelID → set of userIDs
	sessions      map[string]*Connection     // sessionID → connection

	// Ring buffer per channel for session resume replay.
	replayMu     sync.RWMutex
	replayBuffer map[string]*ringBuffer // channelID → ring buffer of events

	// seq numbers every dispatch. A resuming client sends back the last
	// value it saw.
	seq atomic.Int64

	tokens            *auth.TokenService
	members           database.ChannelMemberRepository
	cursors           database.ReadCursorRepository
	heartbeatInterval time.Duration
	metrics           *metrics.Metrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHeartbeatInterval overrides the heartbeat interval announced in HELLO.
func WithHeartbeatInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeatInterval = d
		}
	}
}

// WithMetrics records connection and dispatch counts in m.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// NewManager creates a new gateway Manager.
func NewManager(
	tokens *auth.TokenService,
	members database.ChannelMemberRepository,
	cursors database.ReadCursorRepository,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		connections:       make(map[string]*Connection),
		subscriptions:     make(map[string]map[string]bool),
		sessions:          make(map[string]*Connection),
		replayBuffer:      make(map[string]*ringBuffer),
		tokens:            tokens,
		members:           members,
		cursors:           cursors,
		heartbeatInterval: defaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) nextSequence() int64 {
	return m.seq.Add(1)
}

// register adds a connection to the manager.
func (m *Manager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Disconnect existing connection for this user.
	if old, ok := m.connections[c.UserID]; ok && old != c {
		old.SendPayload(GatewayPayload{Op: OpReconnect})
		old.Close()
		delete(m.sessions, old.SessionID)
	}

	m.connections[c.UserID] = c
	m.sessions[c.SessionID] = c
	m.metrics.SetGatewayConnections(len(m.connections))
}

// unregister removes a connection from the manager and cleans up subscriptions.
func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.connections[c.UserID]; ok && existing == c {
		delete(m.connections, c.UserID)

		for channelID, members := range m.subscriptions {
			delete(members, c.UserID)
			if len(members) == 0 {
				delete(m.subscriptions, channelID)
			}
		}
	}

	delete(m.sessions, c.SessionID)
	m.metrics.SetGatewayConnections(len(m.connections))
}

// SubscribeToChannel adds a user to a channel's event subscription.
func (m *Manager) SubscribeToChannel(userID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscriptions[channelID] == nil {
		m.subscriptions[channelID] = make(map[string]bool)
	}
	m.subscriptions[channelID][userID] = true
}

// UnsubscribeFromChannel removes a user from a channel's event subscription.
func (m *Manager) UnsubscribeFromChannel(userID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if members, ok := m.subscriptions[channelID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(m.subscriptions, channelID)
		}
	}
}

// DispatchToUser sends a dispatch event to a specific connected user.
func (m *Manager) DispatchToUser(userID string, event string, data any) {
	m.mu.RLock()
	c, ok := m.connections[userID]
	m.mu.RUnlock()

	if ok {
		c.SendEvent(event, data)
	}
}

// DispatchToChannel sends a dispatch event to all users subscribed to a
// channel and records it for resume replay.
func (m *Manager) DispatchToChannel(channelID string, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("marshal event error", "event", event, "error", err)
		return
	}
	seq := m.nextSequence()

	m.mu.RLock()
	members := m.subscriptions[channelID]
	conns := make([]*Connection, 0, len(members))
	for userID := range members {
		if c, ok := m.connections[userID]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.sendDispatch(event, raw, seq)
	}

	m.storeReplayEvent(channelID, sequencedEvent{Sequence: seq, Name: event, Data: raw})
	m.metrics.GatewayDispatched()
}

// handleIdentify processes an IDENTIFY payload from a client.
func (m *Manager) handleIdentify(c *Connection, data json.RawMessage) {
	var identify IdentifyData
	if err := json.Unmarshal(data, &identify); err != nil {
		slog.Error("invalid identify data", "error", err)
		c.Close()
		return
	}

	claims, err := m.tokens.ValidateAccessToken(identify.Token)
	if err != nil {
		slog.Warn("invalid token in identify", "error", err)
		c.Close()
		return
	}

	c.UserID = claims.UserID
	c.SessionID = uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channelIDs, err := m.members.GetChannelIDsForUser(ctx, c.UserID)
	if err != nil {
		slog.Error("failed to get channels for user", "userID", c.UserID, "error", err)
		c.Close()
		return
	}
	if channelIDs == nil {
		channelIDs = []string{}
	}

	m.register(c)
	for _, channelID := range channelIDs {
		m.SubscribeToChannel(c.UserID, channelID)
	}

	// Cursors are a best-effort part of READY; clients can refetch them.
	readCursors := []models.ReadCursor{}
	if m.cursors != nil {
		rc, err := m.cursors.GetForUser(ctx, c.UserID)
		if err != nil {
			slog.Error("failed to get read cursors", "userID", c.UserID, "error", err)
		} else if rc != nil {
			readCursors = rc
		}
	}

	c.SendEvent(EventReady, ReadyData{
		SessionID:   c.SessionID,
		UserID:      c.UserID,
		Channels:    channelIDs,
		ReadCursors: readCursors,
	})
}

// handleResume processes a RESUME payload to replay missed events.
func (m *Manager) handleResume(c *Connection, data json.RawMessage) {
	var resume ResumeData
	if err := json.Unmarshal(data, &resume); err != nil || resume.SessionID == "" {
		slog.Error("invalid resume data", "error", err)
		c.SendPayload(GatewayPayload{Op: OpReconnect})
		c.Close()
		return
	}

	claims, err := m.tokens.ValidateAccessToken(resume.Token)
	if err != nil {
		slog.Warn("invalid token in resume", "error", err)
		c.Close()
		return
	}

	c.UserID = claims.UserID
	c.SessionID = resume.SessionID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channelIDs, err := m.members.GetChannelIDsForUser(ctx, c.UserID)
	if err != nil {
		slog.Error("failed to get channels on resume", "userID", c.UserID, "error", err)
		c.SendPayload(GatewayPayload{Op: OpReconnect})
		c.Close()
		return
	}

	m.register(c)

	var missed []sequencedEvent
	for _, channelID := range channelIDs {
		m.SubscribeToChannel(c.UserID, channelID)

		m.replayMu.RLock()
		rb, ok := m.replayBuffer[channelID]
		if ok {
			missed = append(missed, rb.since(resume.Sequence)...)
		}
		m.replayMu.RUnlock()
	}

	// Channels replay independently; restore global dispatch order.
	slices.SortFunc(missed, func(a, b sequencedEvent) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	for _, ev := range missed {
		c.sendDispatch(ev.Name, ev.Data, ev.Sequence)
	}
}

// storeReplayEvent adds an event to the channel's replay ring buffer.
func (m *Manager) storeReplayEvent(channelID string, event sequencedEvent) {
	m.replayMu.Lock()
	defer m.replayMu.Unlock()

	rb, ok := m.replayBuffer[channelID]
	if !ok {
		rb = newRingBuffer(replayBufferSize)
		m.replayBuffer[channelID] = rb
	}
	rb.add(event)
}

// sequencedEvent is an already-encoded dispatch kept for replay.
type sequencedEvent struct {
	Sequence int64
	Name     string
	Data     json.RawMessage
}

// ringBuffer is a fixed-size circular buffer for replay events.
type ringBuffer struct {
	events []sequencedEvent
	size   int
	pos    int
	full   bool
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{
		events: make([]sequencedEvent, size),
		size:   size,
	}
}

func (rb *ringBuffer) add(event sequencedEvent) {
	rb.events[rb.pos] = event
	rb.pos = (rb.pos + 1) % rb.size
	if rb.pos == 0 {
		rb.full = true
	}
}

// since returns all events with sequence > afterSeq, oldest first.
func (rb *ringBuffer) since(afterSeq int64) []sequencedEvent {
	var result []sequencedEvent
	count := rb.size
	if !rb.full {
		count = rb.pos
	}

	start := 0
	if rb.full {
		start = rb.pos
	}

	for i := 0; i < count; i++ {
		idx := (start + i) % rb.size
		if rb.events[idx].Sequence > afterSeq {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Package nudge listens on the server's websocket channel and republishes
// "party has new events" notices into the in-process trigger bus.
package nudge

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/trigger"
	"github.com/coderaid/partysync/internal/ws"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
	writeWait         = 10 * time.Second
)

// Publisher receives nudges. *trigger.Bus satisfies it.
type Publisher interface {
	Publish(partyID string, eventID uint64) int
}

var _ Publisher = (*trigger.Bus)(nil)

// Listener keeps one websocket connection open, reconnecting with capped
// backoff, and stays joined to every party passed to Join.
type Listener struct {
	url    string
	token  string
	bus    Publisher
	dialer *websocket.Dialer
	logger *zap.Logger

	mu      sync.Mutex
	parties map[string]bool
	conn    *websocket.Conn
	ackID   uint64

	minDelay time.Duration
	maxDelay time.Duration
}

func New(wsURL, token string, bus Publisher, logger *zap.Logger) *Listener {
	return &Listener{
		url:      wsURL,
		token:    token,
		bus:      bus,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
		parties:  make(map[string]bool),
		minDelay: minReconnectDelay,
		maxDelay: maxReconnectDelay,
	}
}

// Join follows a party, now if connected and on every reconnect.
func (l *Listener) Join(partyID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.parties[partyID] {
		return
	}
	l.parties[partyID] = true
	if l.conn != nil {
		l.writeLocked(ws.JoinGroupMessage(partyID, l.nextAckLocked()))
	}
}

// Leave stops following a party.
func (l *Listener) Leave(partyID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.parties[partyID] {
		return
	}
	delete(l.parties, partyID)
	if l.conn != nil {
		l.writeLocked(ws.LeaveGroupMessage(partyID))
	}
}

func (l *Listener) nextAckLocked() uint64 {
	l.ackID++
	return l.ackID
}

func (l *Listener) writeLocked(msg []byte) {
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		l.logger.Debug("nudge write failed", zap.Error(err))
	}
}

// Run connects and reads until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	delay := l.minDelay
	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = l.minDelay
		}
		l.logger.Warn("nudge connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, l.maxDelay)
	}
}

// session runs one connection. connected reports whether the dial worked.
func (l *Listener) session(ctx context.Context) (connected bool, err error) {
	target, err := url.Parse(l.url)
	if err != nil {
		return false, err
	}
	q := target.Query()
	q.Set("access_token", l.token)
	target.RawQuery = q.Encode()

	conn, _, err := l.dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return false, err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	l.mu.Lock()
	l.conn = conn
	for partyID := range l.parties {
		l.writeLocked(ws.JoinGroupMessage(partyID, l.nextAckLocked()))
	}
	l.mu.Unlock()

	l.logger.Info("nudge listener connected", zap.String("url", l.url))

	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		l.handle(data)
	}
}

func (l *Listener) handle(data []byte) {
	msg, err := ws.ParseMessage(data)
	if err != nil {
		l.logger.Debug("ignoring nudge frame", zap.Error(err))
		return
	}

	switch msg.Type {
	case ws.TypeMessage:
		if msg.Data == nil || msg.Data.PartyID == "" {
			return
		}
		n := l.bus.Publish(msg.Data.PartyID, msg.Data.EventID)
		l.logger.Debug("nudge received",
			zap.String("party_id", msg.Data.PartyID),
			zap.Uint64("event_id", msg.Data.EventID),
			zap.Int("subscribers", n))
	case ws.TypeAck:
		if msg.Success != nil && !*msg.Success {
			l.logger.Warn("join rejected", zap.Uint64p("ack_id", msg.AckID))
		}
	}
}

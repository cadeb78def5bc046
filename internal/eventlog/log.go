// Package eventlog is the faker's in-memory, append-only party log.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/party"
)

// DefaultLimit is how many events one list call returns.
const DefaultLimit = 20

var ErrEmptyData = errors.New("event data is required")

type partyLog struct {
	events []party.Event
	keys   map[string]party.Event // idempotency key -> stored event
}

// Log holds every party's events in memory. Ids are strictly increasing
// within a party.
type Log struct {
	mu      sync.RWMutex
	parties map[string]*partyLog
	limit   int
	now     func() time.Time
	logger  *zap.Logger
}

func New(limit int, logger *zap.Logger) *Log {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Log{
		parties: make(map[string]*partyLog),
		limit:   limit,
		now:     time.Now,
		logger:  logger,
	}
}

func (l *Log) Limit() int {
	return l.limit
}

func (l *Log) party(partyID string) *partyLog {
	p, ok := l.parties[partyID]
	if !ok {
		p = &partyLog{keys: make(map[string]party.Event)}
		l.parties[partyID] = p
	}
	return p
}

// After returns up to limit events with ids strictly greater than cursor.
// A nil cursor lists from the start; limit < 1 uses the log's default.
func (l *Log) After(partyID string, cursor *uint64, limit int) []party.Event {
	if limit < 1 {
		limit = l.limit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.parties[partyID]
	if !ok {
		return []party.Event{}
	}

	start := 0
	if cursor != nil {
		start, _ = slices.BinarySearchFunc(p.events, *cursor+1, func(e party.Event, id uint64) int {
			switch {
			case e.EventID < id:
				return -1
			case e.EventID > id:
				return 1
			}
			return 0
		})
	}
	end := min(start+limit, len(p.events))
	return slices.Clone(p.events[start:end])
}

// Append stores a new event. A repeated idempotency key returns the event
// stored the first time and created=false.
func (l *Log) Append(partyID, userID string, data party.EventData, idempotencyKey string) (party.Event, bool, error) {
	if data == nil {
		return party.Event{}, false, ErrEmptyData
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.party(partyID)
	if idempotencyKey != "" {
		if e, ok := p.keys[idempotencyKey]; ok {
			l.logger.Debug("duplicate submission",
				zap.String("party_id", partyID),
				zap.String("idempotency_key", idempotencyKey),
				zap.Uint64("event_id", e.EventID))
			return e, false, nil
		}
	}

	var next uint64 = 1
	if n := len(p.events); n > 0 {
		next = p.events[n-1].EventID + 1
	}
	e := party.Event{
		EventID:   next,
		PartyID:   partyID,
		UserID:    userID,
		Data:      data,
		CreatedAt: l.now().UTC(),
	}
	p.events = append(p.events, e)
	if idempotencyKey != "" {
		p.keys[idempotencyKey] = e
	}
	return e, true, nil
}

// Len returns the number of events a party holds.
func (l *Log) Len(partyID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.parties[partyID]; ok {
		return len(p.events)
	}
	return 0
}

func (l *Log) Parties() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.parties))
	for id := range l.parties {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// LoadJSONL seeds the log from a file with one event per line. Events must
// name their party; ids that do not increase within a party are skipped.
func (l *Log) LoadJSONL(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)

	// Increase buffer size for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	l.mu.Lock()
	defer l.mu.Unlock()

	loaded := 0
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e party.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return loaded, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if e.PartyID == "" {
			return loaded, fmt.Errorf("line %d: missing party_id", lineNum)
		}

		p := l.party(e.PartyID)
		if n := len(p.events); n > 0 && e.EventID <= p.events[n-1].EventID {
			l.logger.Warn("skipping out of order event",
				zap.Int("line", lineNum),
				zap.String("party_id", e.PartyID),
				zap.Uint64("event_id", e.EventID))
			continue
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = l.now().UTC()
		}
		p.events = append(p.events, e)
		loaded++
	}

	if err := scanner.Err(); err != nil {
		return loaded, err
	}

	l.logger.Info("seeded event log",
		zap.String("path", path),
		zap.Int("events", loaded),
		zap.Int("parties", len(l.parties)))
	return loaded, nil
}

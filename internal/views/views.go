// Package views folds a party's ordered event list into the read models the
// UI needs. Every function is pure: the same events give value-equal output.
package views

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/coderaid/partysync/internal/party"
)

// ListOrder returns the order set by the last list order event, or def when
// the party never changed it.
func ListOrder(events []party.Event, def []party.ListEntry) []party.ListEntry {
	for i := len(events) - 1; i >= 0; i-- {
		if d, ok := events[i].Data.(party.ListOrderChanged); ok {
			return slices.Clone(d.Order)
		}
	}
	return slices.Clone(def)
}

// OrderedCodes concatenates the lists named by order, reversing where asked,
// and drops repeated codes. Unknown list names are skipped.
func OrderedCodes(lists []CodeList, order []party.ListEntry) []string {
	byName := make(map[string]CodeList, len(lists))
	for _, l := range lists {
		byName[l.Name] = l
	}

	var all []string
	for _, entry := range order {
		l, ok := byName[entry.Name]
		if !ok {
			continue
		}
		codes := slices.Clone(l.Codes)
		if entry.Reverse {
			slices.Reverse(codes)
		}
		all = append(all, codes...)
	}
	return Dedupe(all)
}

// Progress is how far a party got through its codes.
type Progress struct {
	// Tried maps each submitted code to the events that submitted it.
	Tried map[string][]party.Event
	// TriedByUser maps each user to the codes they submitted, in order.
	TriedByUser map[string][]string
	TotalCodes  int
	Percentage  float64
}

// PartyProgress folds code submissions against the ordered code list.
func PartyProgress(events []party.Event, codes []string) Progress {
	p := Progress{
		Tried:       make(map[string][]party.Event),
		TriedByUser: make(map[string][]string),
		TotalCodes:  len(codes),
	}
	for _, e := range events {
		d, ok := e.Data.(party.CodesSubmitted)
		if !ok {
			continue
		}
		for _, code := range d.Codes {
			p.Tried[code] = append(p.Tried[code], e)
			p.TriedByUser[e.UserID] = append(p.TriedByUser[e.UserID], code)
		}
	}
	if p.TotalCodes > 0 {
		p.Percentage = float64(len(p.Tried)) / float64(p.TotalCodes) * 100
	}
	return p
}

// NextUntried returns the index of the first code at or after from that
// nobody has tried, or len(codes) when none is left.
func NextUntried(codes []string, tried map[string][]party.Event, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(codes); i++ {
		if _, ok := tried[codes[i]]; !ok {
			return i
		}
	}
	return len(codes)
}

type LeaderboardEntry struct {
	UserID string
	Codes  int
}

// Leaderboard ranks users by submitted codes, most first, ties by user id.
func Leaderboard(events []party.Event) []LeaderboardEntry {
	counts := make(map[string]int)
	for _, e := range events {
		if d, ok := e.Data.(party.CodesSubmitted); ok {
			counts[e.UserID] += len(d.Codes)
		}
	}

	out := make([]LeaderboardEntry, 0, len(counts))
	for user, n := range counts {
		out = append(out, LeaderboardEntry{UserID: user, Codes: n})
	}
	slices.SortFunc(out, func(a, b LeaderboardEntry) int {
		if a.Codes != b.Codes {
			return b.Codes - a.Codes
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}

type ChatLine struct {
	EventID uint64
	UserID  string
	Message string
	At      time.Time
}

// Chat returns chat messages in event order.
func Chat(events []party.Event) []ChatLine {
	var out []ChatLine
	for _, e := range events {
		if d, ok := e.Data.(party.ChatMessage); ok {
			out = append(out, ChatLine{EventID: e.EventID, UserID: e.UserID, Message: d.Message, At: e.CreatedAt})
		}
	}
	return out
}

type Location struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	MapID string  `json:"map_id"`
}

// Settings are the party options folded from setting events.
type Settings struct {
	Private   bool
	SteamOnly bool
	Location  *Location
	// Extra holds the latest value of every other setting.
	Extra map[string]json.RawMessage
}

// Setting names with a typed field on Settings.
const (
	SettingPrivate   = "private"
	SettingSteamOnly = "steam_only"
	SettingLocation  = "location"
)

// PartySettings applies setting events in order; later ones win. Values that
// do not decode for a typed setting leave it unchanged.
func PartySettings(events []party.Event) Settings {
	s := Settings{Extra: make(map[string]json.RawMessage)}
	for _, e := range events {
		d, ok := e.Data.(party.SettingChanged)
		if !ok {
			continue
		}
		switch d.Setting {
		case SettingPrivate:
			_ = json.Unmarshal(d.Value, &s.Private)
		case SettingSteamOnly:
			_ = json.Unmarshal(d.Value, &s.SteamOnly)
		case SettingLocation:
			if string(d.Value) == "null" {
				s.Location = nil
				continue
			}
			var loc Location
			if err := json.Unmarshal(d.Value, &loc); err == nil {
				s.Location = &loc
			}
		default:
			s.Extra[d.Setting] = slices.Clone(d.Value)
		}
	}
	return s
}

// Cursors returns each user's latest cursor update.
func Cursors(events []party.Event) map[string]party.CursorUpdate {
	out := make(map[string]party.CursorUpdate)
	for _, e := range events {
		if d, ok := e.Data.(party.CursorUpdate); ok {
			user := d.UserID
			if user == "" {
				user = e.UserID
			}
			out[user] = d
		}
	}
	return out
}

// Members is who owns and who is currently in the party.
type Members struct {
	Owner string
	// Active lists present users in the order they first joined.
	Active []string
}

func PartyMembers(events []party.Event) Members {
	var (
		m       Members
		order   []string
		present = make(map[string]bool)
	)
	for _, e := range events {
		switch d := e.Data.(type) {
		case party.PartyCreated:
			m.Owner = d.OwnerID
		case party.OwnerChanged:
			m.Owner = d.OwnerID
		case party.JoinLeave:
			user := d.UserID
			if user == "" {
				user = e.UserID
			}
			if _, known := present[user]; !known {
				order = append(order, user)
			}
			present[user] = d.IsJoin
		}
	}
	for _, user := range order {
		if present[user] {
			m.Active = append(m.Active, user)
		}
	}
	return m
}

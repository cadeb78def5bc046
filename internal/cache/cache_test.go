package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/party"
)

func testPage(ids ...uint64) party.Page {
	page := make(party.Page, 0, len(ids))
	for _, id := range ids {
		page = append(page, party.Event{
			EventID: id,
			UserID:  "u1",
			Data:    party.ChatMessage{Message: "msg"},
		})
	}
	return page
}

func pageIDs(p party.Page) []uint64 {
	ids := make([]uint64, len(p))
	for i, e := range p {
		ids[i] = e.EventID
	}
	return ids
}

func equalIDs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func backends(t *testing.T) map[string]func(compress bool) PageCache {
	logger := zap.NewNop()
	return map[string]func(bool) PageCache{
		BackendFile: func(compress bool) PageCache {
			c, err := NewFileCache(t.TempDir(), compress, logger)
			if err != nil {
				t.Fatal(err)
			}
			return c
		},
		BackendSQLite: func(compress bool) PageCache {
			c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "pages.db"), compress, logger)
			if err != nil {
				t.Fatal(err)
			}
			return c
		},
	}
}

func TestPageCacheRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		for _, compress := range []bool{false, true} {
			c := open(compress)

			if _, ok, err := c.Get(ctx, "p1", party.InitialKey); err != nil || ok {
				t.Fatalf("%s: expected miss on empty cache, got ok=%v err=%v", name, ok, err)
			}

			if err := c.Put(ctx, "p1", party.InitialKey, testPage(1, 2, 3)); err != nil {
				t.Fatalf("%s: put initial: %v", name, err)
			}
			if err := c.Put(ctx, "p1", "3", testPage(4, 5)); err != nil {
				t.Fatalf("%s: put cursor: %v", name, err)
			}
			if err := c.PutCurrent(ctx, "p1", testPage(6)); err != nil {
				t.Fatalf("%s: put current: %v", name, err)
			}
			if err := c.Put(ctx, "p2", party.InitialKey, testPage(1)); err != nil {
				t.Fatalf("%s: put p2: %v", name, err)
			}

			page, ok, err := c.Get(ctx, "p1", "3")
			if err != nil || !ok {
				t.Fatalf("%s: expected hit, got ok=%v err=%v", name, ok, err)
			}
			if !equalIDs(pageIDs(page), []uint64{4, 5}) {
				t.Errorf("%s: unexpected page %v", name, pageIDs(page))
			}

			// Overwrite is idempotent.
			if err := c.Put(ctx, "p1", "3", testPage(4, 5, 6)); err != nil {
				t.Fatal(err)
			}
			page, _, _ = c.Get(ctx, "p1", "3")
			if len(page) != 3 {
				t.Errorf("%s: expected overwritten page of 3, got %d", name, len(page))
			}

			all, err := c.LoadAll(ctx)
			if err != nil {
				t.Fatalf("%s: load all: %v", name, err)
			}
			if len(all["p1"]) != 3 {
				t.Errorf("%s: expected 3 entries for p1, got %d", name, len(all["p1"]))
			}
			if len(all["p2"]) != 1 {
				t.Errorf("%s: expected 1 entry for p2, got %d", name, len(all["p2"]))
			}

			if err := c.Clear(ctx, "p1"); err != nil {
				t.Fatal(err)
			}
			all, _ = c.LoadAll(ctx)
			if len(all["p1"]) != 0 || len(all["p2"]) != 1 {
				t.Errorf("%s: clear removed the wrong entries: %v", name, all)
			}

			_ = c.Close()
		}
	}
}

func TestPageCacheRejectsInvalidKey(t *testing.T) {
	for name, open := range backends(t) {
		c := open(false)
		if err := c.Put(context.Background(), "p1", "not-a-cursor", testPage(1)); err == nil {
			t.Errorf("%s: expected error for invalid key", name)
		}
		_ = c.Close()
	}
}

func TestFileCacheDropsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, err := NewFileCache(dir, false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Put(ctx, "p1", party.InitialKey, testPage(1, 2)); err != nil {
		t.Fatal(err)
	}

	corruptPath := filepath.Join(dir, "p1", "10.json")
	if err := os.WriteFile(corruptPath, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	all, err := c.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all must not fail on corrupt entries: %v", err)
	}
	if len(all["p1"]) != 1 {
		t.Errorf("expected only the healthy entry, got %d", len(all["p1"]))
	}
	if _, err := os.Stat(corruptPath); !os.IsNotExist(err) {
		t.Error("corrupt entry should have been removed")
	}

	// Corruption found on Get is a miss, and the entry is removed.
	if err := os.WriteFile(corruptPath, []byte("[{\"event_id\":"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(ctx, "p1", "10"); ok || err != nil {
		t.Errorf("expected miss for corrupt entry, got ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(corruptPath); !os.IsNotExist(err) {
		t.Error("corrupt entry should have been removed on get")
	}
}

func TestFileCacheReadsAcrossCompressionSettings(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	compressed, err := NewFileCache(dir, true, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := compressed.Put(ctx, "p1", party.InitialKey, testPage(1, 2, 3)); err != nil {
		t.Fatal(err)
	}
	_ = compressed.Close()

	raw, err := os.ReadFile(filepath.Join(dir, "p1", "initial.json"))
	if err != nil {
		t.Fatal(err)
	}
	if raw[0] != zstdMagic[0] {
		t.Error("expected a zstd frame on disk")
	}

	plain, err := NewFileCache(dir, false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer plain.Close()

	page, ok, err := plain.Get(ctx, "p1", party.InitialKey)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if !equalIDs(pageIDs(page), []uint64{1, 2, 3}) {
		t.Errorf("unexpected page %v", pageIDs(page))
	}
}

func TestFileCacheEscapesPartyIDs(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir(), false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Put(ctx, "team/alpha", party.InitialKey, testPage(1)); err != nil {
		t.Fatal(err)
	}
	all, err := c.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all["team/alpha"]) != 1 {
		t.Errorf("expected entry under original party id, got %v", all)
	}
}

func TestPageCacheRejectsInvalidPartyID(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		c := open(false)
		for _, id := range []string{"", ".", ".."} {
			if err := c.Put(ctx, id, party.InitialKey, testPage(1)); !errors.Is(err, ErrInvalidPartyID) {
				t.Errorf("%s: put %q: expected ErrInvalidPartyID, got %v", name, id, err)
			}
			if err := c.PutCurrent(ctx, id, testPage(1)); !errors.Is(err, ErrInvalidPartyID) {
				t.Errorf("%s: put current %q: expected ErrInvalidPartyID, got %v", name, id, err)
			}
			if _, _, err := c.Get(ctx, id, party.InitialKey); !errors.Is(err, ErrInvalidPartyID) {
				t.Errorf("%s: get %q: expected ErrInvalidPartyID, got %v", name, id, err)
			}
			if err := c.Clear(ctx, id); !errors.Is(err, ErrInvalidPartyID) {
				t.Errorf("%s: clear %q: expected ErrInvalidPartyID, got %v", name, id, err)
			}
		}
		_ = c.Close()
	}
}

func TestFileCacheClearStaysInsideRoot(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	sibling := filepath.Join(parent, "keep.txt")
	if err := os.WriteFile(sibling, []byte("keep"), 0600); err != nil {
		t.Fatal(err)
	}

	c, err := NewFileCache(filepath.Join(parent, "cache"), false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Put(ctx, "p1", party.InitialKey, testPage(1)); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"..", ".", ""} {
		if err := c.Clear(ctx, id); err == nil {
			t.Errorf("clear %q: expected error", id)
		}
	}
	if _, err := os.Stat(sibling); err != nil {
		t.Errorf("file next to the cache was touched: %v", err)
	}
	if _, ok, err := c.Get(ctx, "p1", party.InitialKey); err != nil || !ok {
		t.Errorf("cached entry lost: ok=%v err=%v", ok, err)
	}

	// Separators are escaped into one segment.
	if err := c.Put(ctx, "../escape", party.InitialKey, testPage(1)); err != nil {
		t.Fatal(err)
	}
	if err := c.Clear(ctx, "../escape"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(sibling); err != nil {
		t.Errorf("file next to the cache was touched: %v", err)
	}
}

func TestSQLiteCacheDropsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "pages.db"), false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Put(ctx, "p1", party.InitialKey, testPage(1)); err != nil {
		t.Fatal(err)
	}
	_, err = c.db.Exec(`INSERT INTO pages (id, party_id, cache_key, data, updated_at) VALUES (?, ?, ?, ?, ?)`,
		StorageKey("p1", "10"), "p1", "10", []byte("garbage"), "now")
	if err != nil {
		t.Fatal(err)
	}

	all, err := c.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all["p1"]) != 1 {
		t.Errorf("expected 1 healthy entry, got %d", len(all["p1"]))
	}

	var count int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM pages`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected corrupt row to be deleted, %d rows remain", count)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("redis", "", false, zap.NewNop()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

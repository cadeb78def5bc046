package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/api"
	"github.com/coderaid/partysync/internal/cache"
	"github.com/coderaid/partysync/internal/config"
	"github.com/coderaid/partysync/internal/fetch"
	"github.com/coderaid/partysync/internal/party"
	"github.com/coderaid/partysync/internal/prefetch"
	"github.com/coderaid/partysync/internal/session"
	"github.com/coderaid/partysync/internal/submit"
	"github.com/coderaid/partysync/internal/subscription"
	"github.com/coderaid/partysync/internal/views"
)

// sessionOptions maps configuration onto the session's tunables.
func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		PageSize: cfg.Sync.PageSize,
		Fetch: fetch.Options{
			InitialDelay:  cfg.Sync.InitialDelay,
			StandardDelay: cfg.Sync.StandardDelay,
			BaseDelay:     cfg.Sync.BaseDelay,
			MaxBackoff:    cfg.Sync.MaxBackoff,
			Jitter:        cfg.Sync.Jitter,
			FetchTimeout:  cfg.Sync.FetchTimeout,
		},
		Subscription: subscription.Options{
			PollInterval:  cfg.Sync.PollInterval,
			PaginateDelay: cfg.Sync.PaginateDelay,
		},
		Submit: submit.Options{
			MaxAttempts:   cfg.Submit.MaxAttempts,
			RetryDelay:    cfg.Submit.RetryDelay,
			MaxRetryDelay: cfg.Submit.MaxRetryDelay,
		},
	}
}

func newClient(cfg *config.Config, logger *zap.Logger) (*api.HTTPClient, error) {
	if err := cfg.RequireToken(); err != nil {
		return nil, err
	}
	return api.NewClient(
		cfg.API.BaseURL,
		cfg.API.Token,
		cfg.API.RatePerSecond,
		time.Duration(cfg.API.TimeoutSec)*time.Second,
		logger.Named("api"),
	), nil
}

func openCache(cfg *config.Config, logger *zap.Logger) (cache.PageCache, error) {
	return cache.Open(cfg.Cache.Backend, cfg.Cache.Path, cfg.Cache.Compress, logger.Named("cache"))
}

// openSession builds a session over the configured cache and restores what
// the cache holds. The returned func closes both.
func openSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*session.Session, func(), error) {
	client, err := newClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	pc, err := openCache(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	sess := session.New(client, pc, sessionOptions(cfg), logger)
	if _, err := sess.Load(ctx); err != nil {
		logger.Warn("failed to restore cache", zap.Error(err))
	}

	closeFn := func() {
		sess.Close()
		if err := pc.Close(); err != nil {
			logger.Warn("failed to close cache", zap.Error(err))
		}
	}
	return sess, closeFn, nil
}

// syncParties pages every party to the head of its log.
func syncParties(ctx context.Context, sess *session.Session, partyIDs []string, workers int, logger *zap.Logger) (*prefetch.BatchResult, error) {
	mgr := prefetch.NewManager(sess.Coordinator(), sess.Store(), workers, logger.Named("prefetch"))
	return mgr.Execute(ctx, partyIDs)
}

// codeLists returns the built-in lists plus any configured in codes.file.
func codeLists(cfg *config.Config) ([]views.CodeList, error) {
	lists := views.BuiltinLists()
	if cfg.Codes.File == "" {
		return lists, nil
	}
	extra, err := views.LoadCodeLists(cfg.Codes.File)
	if err != nil {
		return nil, err
	}
	return views.MergeLists(lists, extra), nil
}

// printEvent writes one human-readable line per event.
func printEvent(w io.Writer, e party.Event) {
	at := ""
	if !e.CreatedAt.IsZero() {
		at = e.CreatedAt.Local().Format("15:04:05") + " "
	}
	fmt.Fprintf(w, "%s#%d %s %s\n", at, e.EventID, e.UserID, describe(e.Data))
}

func describe(d party.EventData) string {
	switch d := d.(type) {
	case party.PartyCreated:
		return "created the party for " + d.OwnerID
	case party.OwnerChanged:
		return "made " + d.OwnerID + " owner"
	case party.JoinLeave:
		if d.IsJoin {
			return d.UserID + " joined"
		}
		return d.UserID + " left"
	case party.CodesSubmitted:
		return "tried " + strings.Join(d.Codes, ", ")
	case party.CursorUpdate:
		return fmt.Sprintf("moved to %s (+%d)", d.Cursor, d.Size)
	case party.ChatMessage:
		return "says: " + d.Message
	case party.ListOrderChanged:
		names := make([]string, 0, len(d.Order))
		for _, e := range d.Order {
			if e.Reverse {
				names = append(names, e.Name+" (reversed)")
			} else {
				names = append(names, e.Name)
			}
		}
		return "reordered lists: " + strings.Join(names, ", ")
	case party.SettingChanged:
		return fmt.Sprintf("set %s = %s", d.Setting, string(d.Value))
	case nil:
		return "(no data)"
	default:
		return "(" + d.Type() + ")"
	}
}

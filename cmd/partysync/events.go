package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/coderaid/partysync/internal/party"
	"github.com/coderaid/partysync/internal/views"
)

// Views accepted by the events command.
const (
	viewLog         = "log"
	viewProgress    = "progress"
	viewLeaderboard = "leaderboard"
	viewChat        = "chat"
	viewSettings    = "settings"
	viewOrder       = "order"
	viewMembers     = "members"
)

var validViews = []string{viewLog, viewProgress, viewLeaderboard, viewChat, viewSettings, viewOrder, viewMembers}

func eventsCmd() *cobra.Command {
	var (
		view    string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "events PARTY_ID",
		Short: "Sync a party and print its events or a derived view",
		Long: `Sync a party to the head of its log and print it.

Views: log, progress, leaderboard, chat, settings, order, members

Examples:
  partysync events abc123
  partysync events abc123 --view progress
  partysync events abc123 --view chat --offline`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			partyID := args[0]

			if !slices.Contains(validViews, view) {
				return fmt.Errorf("unknown view %q (valid: %v)", view, validViews)
			}

			sess, closeFn, err := openSession(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			if !offline {
				result, err := syncParties(ctx, sess, []string{partyID}, 1, logger)
				if err != nil {
					return err
				}
				if result.Failed > 0 {
					return fmt.Errorf("sync failed: %v", result.Errors)
				}
			}

			events := sess.Events(partyID)
			lists, err := codeLists(cfg)
			if err != nil {
				return err
			}
			return renderView(os.Stdout, view, events, lists)
		},
	}

	cmd.Flags().StringVar(&view, "view", viewLog, "what to print")
	cmd.Flags().BoolVar(&offline, "offline", false, "only use cached pages")

	return cmd
}

func renderView(out io.Writer, view string, events []party.Event, lists []views.CodeList) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	switch view {
	case viewLog:
		for _, e := range events {
			printEvent(w, e)
		}

	case viewProgress:
		order := views.ListOrder(events, views.DefaultOrder(lists))
		codes := views.OrderedCodes(lists, order)
		p := views.PartyProgress(events, codes)
		fmt.Fprintf(w, "tried\t%d / %d\t(%.1f%%)\n", len(p.Tried), p.TotalCodes, p.Percentage)
		if next := views.NextUntried(codes, p.Tried, 0); next < len(codes) {
			fmt.Fprintf(w, "next\t%s\n", codes[next])
		}
		users := make([]string, 0, len(p.TriedByUser))
		for u := range p.TriedByUser {
			users = append(users, u)
		}
		slices.Sort(users)
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%d codes\n", u, len(p.TriedByUser[u]))
		}

	case viewLeaderboard:
		for i, e := range views.Leaderboard(events) {
			fmt.Fprintf(w, "%d.\t%s\t%d\n", i+1, e.UserID, e.Codes)
		}

	case viewChat:
		for _, line := range views.Chat(events) {
			fmt.Fprintf(w, "%s\t%s\t%s\n", line.At.Local().Format("15:04:05"), line.UserID, line.Message)
		}

	case viewSettings:
		s := views.PartySettings(events)
		fmt.Fprintf(w, "private\t%v\n", s.Private)
		fmt.Fprintf(w, "steam_only\t%v\n", s.SteamOnly)
		if s.Location != nil {
			fmt.Fprintf(w, "location\t%.5f,%.5f\t%s\n", s.Location.Lat, s.Location.Lng, s.Location.MapID)
		}
		keys := make([]string, 0, len(s.Extra))
		for k := range s.Extra {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\n", k, string(s.Extra[k]))
		}

	case viewOrder:
		for i, e := range views.ListOrder(events, views.DefaultOrder(lists)) {
			dir := "forward"
			if e.Reverse {
				dir = "reverse"
			}
			fmt.Fprintf(w, "%d.\t%s\t%s\n", i+1, e.Name, dir)
		}

	case viewMembers:
		m := views.PartyMembers(events)
		fmt.Fprintf(w, "owner\t%s\n", m.Owner)
		for _, u := range m.Active {
			fmt.Fprintf(w, "member\t%s\n", u)
		}

	default:
		return fmt.Errorf("unknown view %q", view)
	}
	return nil
}

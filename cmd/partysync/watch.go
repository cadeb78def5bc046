package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/nudge"
	"github.com/coderaid/partysync/internal/subscription"
)

func watchCmd() *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "watch PARTY_ID",
		Short: "Follow a party's events as they arrive",
		Long: `Follow a party's event log. Cached pages are shown first, then the log is
paged forward and polled. With nudge.enabled the server's websocket announces
new events so they show up without waiting for the next poll.

Examples:
  # Follow everything
  partysync watch abc123

  # Only chat and code submissions
  partysync watch abc123 --type user_chat_message --type user_codes_submitted`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			partyID := args[0]

			sess, closeFn, err := openSession(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			if cfg.Nudge.Enabled {
				listener := nudge.New(cfg.NudgeURL(), cfg.API.Token, sess.Bus(), logger.Named("nudge"))
				listener.Join(partyID)
				go func() {
					if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
						logger.Warn("nudge listener stopped", zap.Error(err))
					}
				}()
			}

			var filter subscription.Predicate
			if len(types) > 0 {
				filter = subscription.OfType(types...)
			}
			sub := sess.Subscribe(partyID, filter)
			defer sess.Unsubscribe(sub)

			var last uint64
			var lastErr error
			for {
				select {
				case <-ctx.Done():
					return nil
				case st, ok := <-sub.Updates():
					if !ok {
						return nil
					}
					for _, e := range st.Events {
						if e.EventID > last {
							printEvent(os.Stdout, e)
							last = e.EventID
						}
					}
					if st.Err != nil && (lastErr == nil || st.Err.Error() != lastErr.Error()) {
						fmt.Fprintf(os.Stderr, "sync error: %v\n", st.Err)
					}
					lastErr = st.Err
				}
			}
		},
	}

	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "only show events of these types")

	return cmd
}

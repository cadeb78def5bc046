package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/party"
)

func exportCmd() *cobra.Command {
	var (
		out     string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "export PARTY_ID...",
		Short: "Write parties' events as JSON Lines",
		Long: `Sync parties and write their events, one JSON object per line. The output
can seed the development server (FAKER_SEED_FILE).

Examples:
  partysync export abc123 > abc123.jsonl
  partysync export --offline --out seed.jsonl abc123 def456`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sess, closeFn, err := openSession(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			if !offline {
				result, err := syncParties(ctx, sess, args, cfg.Prefetch.Workers, logger)
				if err != nil {
					return err
				}
				if result.Failed > 0 {
					return fmt.Errorf("%d parties failed to sync", result.Failed)
				}
			}

			var w io.Writer = os.Stdout
			if out != "" {
				if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
					return fmt.Errorf("creating output directory: %w", err)
				}
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("creating output: %w", err)
				}
				defer f.Close()
				w = f
			}

			total := 0
			for _, partyID := range args {
				n, err := writeJSONL(w, partyID, sess.Events(partyID))
				if err != nil {
					return fmt.Errorf("exporting %s: %w", partyID, err)
				}
				total += n
			}

			logger.Info("export complete",
				zap.Int("parties", len(args)),
				zap.Int("events", total),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&offline, "offline", false, "only use cached pages")

	return cmd
}

// writeJSONL encodes events one per line, filling in the party id the
// server may have left out.
func writeJSONL(w io.Writer, partyID string, events []party.Event) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, e := range events {
		if e.PartyID == "" {
			e.PartyID = partyID
		}
		if err := enc.Encode(e); err != nil {
			return i, err
		}
	}
	return len(events), bw.Flush()
}

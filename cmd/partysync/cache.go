package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local page cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached parties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := openCache(cfg, logger)
			if err != nil {
				return err
			}
			defer pc.Close()

			all, err := pc.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			for partyID, entries := range all {
				fmt.Printf("%s\t%d pages\n", partyID, len(entries))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear PARTY_ID...",
		Short: "Forget cached pages for parties",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := openCache(cfg, logger)
			if err != nil {
				return err
			}
			defer pc.Close()

			for _, partyID := range args {
				if err := pc.Clear(cmd.Context(), partyID); err != nil {
					return fmt.Errorf("clearing %s: %w", partyID, err)
				}
				logger.Info("cleared cache", zap.String("party_id", partyID))
			}
			return nil
		},
	})

	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coderaid/partysync/internal/party"
)

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Append an event to a party",
		Long: `Append an event to a party. Transient failures are retried with the same
idempotency key, so a retried submission is stored once.

Examples:
  partysync submit chat abc123 "trying the birthyears next"
  partysync submit codes abc123 1984 1985 1986
  partysync submit setting abc123 private true
  partysync submit order abc123 "Angel Numbers" "Random Birthyears:reverse"`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "chat PARTY_ID MESSAGE...",
		Short: "Send a chat message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, args[0], party.ChatMessage{Message: strings.Join(args[1:], " ")})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "codes PARTY_ID CODE...",
		Short: "Record tried codes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, args[0], party.CodesSubmitted{Codes: args[1:]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "setting PARTY_ID KEY JSON_VALUE",
		Short: "Change a party setting",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := json.RawMessage(args[2])
			if !json.Valid(value) {
				// bare words are sent as strings
				quoted, _ := json.Marshal(args[2])
				value = quoted
			}
			return runSubmit(cmd, args[0], party.SettingChanged{Setting: args[1], Value: value})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "order PARTY_ID LIST[:reverse]...",
		Short: "Change the code list order",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			order := make([]party.ListEntry, 0, len(args)-1)
			for _, arg := range args[1:] {
				name, reverse := strings.CutSuffix(arg, ":reverse")
				order = append(order, party.ListEntry{Name: name, Reverse: reverse})
			}
			return runSubmit(cmd, args[0], party.ListOrderChanged{Order: order})
		},
	})

	return cmd
}

func runSubmit(cmd *cobra.Command, partyID string, data party.EventData) error {
	ctx := cmd.Context()

	sess, closeFn, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	event, err := sess.Submit(ctx, partyID, data)
	if err != nil {
		return fmt.Errorf("submitting %s: %w", data.Type(), err)
	}
	printEvent(os.Stdout, *event)
	return nil
}

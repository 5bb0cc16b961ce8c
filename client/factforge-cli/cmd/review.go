package cmd

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	queueStatus string
	queueMine   bool
	queueLimit  int
	queueCursor string
	actNote     string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the human review queue (reviewer role)",
}

var reviewQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List review items, highest priority first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		q.Set("status", queueStatus)
		if queueMine {
			q.Set("mine", "true")
		}
		if queueLimit > 0 {
			q.Set("limit", strconv.Itoa(queueLimit))
		}
		if queueCursor != "" {
			q.Set("cursor", queueCursor)
		}
		var raw json.RawMessage
		if err := newClient().Do(cmd.Context(), http.MethodGet, "/review/queue", q, nil, &raw); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	},
}

var reviewAssignCmd = &cobra.Command{
	Use:   "assign [review-id]",
	Short: "Assign a pending item to yourself",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw json.RawMessage
		if err := newClient().Do(cmd.Context(), http.MethodPost, "/review/"+url.PathEscape(args[0])+"/assign", nil, nil, &raw); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	},
}

var reviewActCmd = &cobra.Command{
	Use:       "act [review-id] [approve|reject|escalate]",
	Short:     "Record a decision on an item assigned to you",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"approve", "reject", "escalate"},
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"action": args[1], "note": actNote}
		var raw json.RawMessage
		if err := newClient().Do(cmd.Context(), http.MethodPost, "/review/"+url.PathEscape(args[0])+"/action", nil, body, &raw); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	},
}

var reviewStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts by status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw json.RawMessage
		if err := newClient().Do(cmd.Context(), http.MethodGet, "/review/stats", nil, nil, &raw); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	},
}

func init() {
	reviewQueueCmd.Flags().StringVar(&queueStatus, "status", "pending", "status filter, or all")
	reviewQueueCmd.Flags().BoolVar(&queueMine, "mine", false, "only items assigned to me")
	reviewQueueCmd.Flags().IntVar(&queueLimit, "limit", 0, "page size")
	reviewQueueCmd.Flags().StringVar(&queueCursor, "cursor", "", "cursor from a previous page")
	reviewActCmd.Flags().StringVar(&actNote, "note", "", "reviewer note")

	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewQueueCmd, reviewAssignCmd, reviewActCmd, reviewStatsCmd)
}

package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var thresholdsFile string

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administer providers, thresholds and the audit log (admin role)",
}

var adminStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active LLM provider and breaker states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw json.RawMessage
		if err := newClient().Do(cmd.Context(), http.MethodGet, "/admin/llm/status", nil, nil, &raw); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	},
}

var adminSwitchCmd = &cobra.Command{
	Use:   "switch [provider]",
	Short: "Switch the active LLM provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw json.RawMessage
		if err := newClient().Do(cmd.Context(), http.MethodPost, "/admin/llm/switch", nil, map[string]string{"provider": args[0]}, &raw); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	},
}

var adminStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show check counters and review queue counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw json.RawMessage
		if err := newClient().Do(cmd.Context(), http.MethodGet, "/admin/stats", nil, nil, &raw); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	},
}

var adminModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the active provider and the thresholds in effect",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw json.RawMessage
		if err := newClient().Do(cmd.Context(), http.MethodGet, "/admin/models", nil, nil, &raw); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	},
}

var adminVerifyCmd = &cobra.Command{
	Use:   "verify [audit-id]",
	Short: "Verify the signature of an audit entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res struct {
			ID    string `json:"id"`
			Valid bool   `json:"valid"`
		}
		q := url.Values{"id": {args[0]}}
		if err := newClient().Do(cmd.Context(), http.MethodGet, "/admin/audit/verify", q, nil, &res); err != nil {
			return err
		}
		if !res.Valid {
			return fmt.Errorf("audit entry %s failed verification", res.ID)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "audit entry %s is valid\n", res.ID)
		return nil
	},
}

var adminThresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Show thresholds, or update them with --file",
	Long: `Without flags, prints the current per-language thresholds.
With --file, posts a JSON object of per-language values. Fields left out
keep their current value, for example
{"hi": {"auto_publish_min_confidence": 90}, "en": {"review_max_score": 91}}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		var raw json.RawMessage
		if thresholdsFile == "" {
			if err := c.Do(cmd.Context(), http.MethodGet, "/admin/thresholds", nil, nil, &raw); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		}
		data, err := os.ReadFile(thresholdsFile)
		if err != nil {
			return err
		}
		var patch map[string]json.RawMessage
		if err := json.Unmarshal(data, &patch); err != nil {
			return fmt.Errorf("parse %s: %w", thresholdsFile, err)
		}
		body := map[string]interface{}{"thresholds": patch}
		if err := c.Do(cmd.Context(), http.MethodPost, "/admin/models/update", nil, body, &raw); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), raw)
	},
}

func init() {
	adminThresholdsCmd.Flags().StringVar(&thresholdsFile, "file", "", "JSON file with per-language thresholds")
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminStatusCmd, adminSwitchCmd, adminStatsCmd, adminModelsCmd, adminVerifyCmd, adminThresholdsCmd)
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var (
	checkLang   string
	checkSource string
	checkRaw    bool
)

type checkResult struct {
	RequestID       string   `json:"request_id"`
	Verdict         string   `json:"verdict"`
	TrustScore      int      `json:"trust_score"`
	Confidence      int      `json:"confidence"`
	Reasons         []string `json:"reasons"`
	Route           string   `json:"route"`
	ReviewID        string   `json:"review_id"`
	Degraded        bool     `json:"degraded"`
	DegradedReasons []string `json:"degraded_reasons"`
	Tip             string   `json:"one_line_tip"`
	Language        string   `json:"language_detected"`
	EvidenceList    []struct {
		URL        string  `json:"url"`
		Similarity float64 `json:"similarity"`
	} `json:"evidence_list"`
}

var checkCmd = &cobra.Command{
	Use:   "check [claim text]",
	Short: "Check a claim and print the trust verdict",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"claim_text": strings.Join(args, " ")}
		if checkLang != "" {
			body["language"] = checkLang
		}
		if checkSource != "" {
			body["source_type"] = checkSource
		}
		var raw json.RawMessage
		if err := newClient().Do(cmd.Context(), http.MethodPost, "/check", nil, body, &raw); err != nil {
			return err
		}
		if checkRaw {
			return printJSON(cmd.OutOrStdout(), raw)
		}
		var res checkResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return err
		}
		printCheck(cmd.OutOrStdout(), res)
		return nil
	},
}

func printCheck(w io.Writer, r checkResult) {
	fmt.Fprintf(w, "Verdict:    %s (trust %d, confidence %d)\n", r.Verdict, r.TrustScore, r.Confidence)
	fmt.Fprintf(w, "Language:   %s\n", r.Language)
	fmt.Fprintf(w, "Route:      %s\n", r.Route)
	if r.ReviewID != "" {
		fmt.Fprintf(w, "Review ID:  %s\n", r.ReviewID)
	}
	for _, reason := range r.Reasons {
		fmt.Fprintf(w, "  - %s\n", reason)
	}
	for _, ev := range r.EvidenceList {
		fmt.Fprintf(w, "  evidence %.2f %s\n", ev.Similarity, ev.URL)
	}
	if r.Tip != "" {
		fmt.Fprintf(w, "Tip:        %s\n", r.Tip)
	}
	if r.Degraded {
		fmt.Fprintf(w, "Degraded:   %s\n", strings.Join(r.DegradedReasons, ", "))
	}
	fmt.Fprintf(w, "Request ID: %s\n", r.RequestID)
}

func init() {
	checkCmd.Flags().StringVar(&checkLang, "lang", "", "claim language (en, hi, ta, kn or auto)")
	checkCmd.Flags().StringVar(&checkSource, "source", "", "source type (text, url, image)")
	checkCmd.Flags().BoolVar(&checkRaw, "json", false, "print the raw JSON response")
	rootCmd.AddCommand(checkCmd)
}

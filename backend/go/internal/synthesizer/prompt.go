package synthesizer

import (
	"fmt"
	"strings"

	"factforge/backend/go/internal/models"
)

var languageNames = map[string]string{
	models.LangEnglish: "English",
	models.LangHindi:   "Hindi",
	models.LangTamil:   "Tamil",
	models.LangKannada: "Kannada",
}

func languageName(code string) string {
	if n, ok := languageNames[code]; ok {
		return n
	}
	return "English"
}

// maxSummaryRunes 限制每条证据摘要在提示中的长度。
const maxSummaryRunes = 600

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// BuildVerdictPrompt 生成核查提示。证据按检索顺序列出。
func BuildVerdictPrompt(claim models.Claim, evidence models.RetrievalResult, scores models.ScoreSet) string {
	var sb strings.Builder
	sb.WriteString("You are a fact-checking expert. Analyze the claim using only the evidence below.\n")
	fmt.Fprintf(&sb, "Write the reasons and the tip in %s.\n\n", languageName(claim.Language))
	fmt.Fprintf(&sb, "Claim: %s\n\n", claim.Text)

	sb.WriteString("Evidence:\n")
	if evidence.Empty() {
		sb.WriteString("(no matching evidence was found in the corpus)\n")
	}
	for i, it := range evidence.Items {
		e := it.Evidence
		fmt.Fprintf(&sb, "%d. [id=%s similarity=%.2f", i+1, e.ID, it.Similarity)
		if e.Label != "" {
			fmt.Fprintf(&sb, " fact_checked_as=%s", e.Label)
		}
		fmt.Fprintf(&sb, "] %s (Source: %s)\n", truncate(e.Summary, maxSummaryRunes), e.URL)
	}

	sb.WriteString("\nAutomated signals (0 = benign, 1 = scam-like):\n")
	fmt.Fprintf(&sb, "- heuristic suspicion: %.2f\n", scores.HeuristicScore)
	if scores.ClassifierAvailable {
		fmt.Fprintf(&sb, "- classifier suspicion: %.2f\n", scores.ClassifierScore)
	} else {
		sb.WriteString("- classifier suspicion: unavailable\n")
	}
	if len(scores.MatchedRules) > 0 {
		fmt.Fprintf(&sb, "- matched patterns: %s\n", strings.Join(scores.MatchedRules, ", "))
	}

	sb.WriteString(`
Respond with valid JSON only. No other text. Use exactly this shape:
{
  "verdict": "TRUE" | "FALSE" | "MISLEADING" | "UNVERIFIED" | "PARTIALLY_TRUE",
  "confidence": 0-100,
  "reasons": ["reason 1", "reason 2"],
  "one_line_tip": "One line tip"
}
If the evidence does not settle the claim, answer UNVERIFIED with low confidence.`)
	return sb.String()
}

// BuildLessonPrompt 生成迷你课程提示。
func BuildLessonPrompt(claim models.Claim, verdict models.Verdict, evidence models.RetrievalResult) string {
	var sb strings.Builder
	sb.WriteString("You are a media-literacy teacher. Write a short lesson (20-45 seconds to read) about the claim below.\n")
	fmt.Fprintf(&sb, "Write everything in %s.\n\n", languageName(claim.Language))
	fmt.Fprintf(&sb, "Claim: %s\nVerdict: %s\n\nEvidence:\n", claim.Text, verdict)
	for i, it := range evidence.Items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, truncate(it.Evidence.Summary, maxSummaryRunes))
	}
	sb.WriteString(`
Respond with valid JSON only. No other text. Use exactly this shape:
{
  "mini_lesson": "one paragraph",
  "tips": ["tip 1", "tip 2"],
  "quiz": {"question": "question", "options": ["A", "B", "C"], "answer": "A"}
}`)
	return sb.String()
}

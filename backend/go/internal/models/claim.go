package models

import "time"

// SourceType 表示 claim 文本的来源。
type SourceType string

const (
	SourceText  SourceType = "text"
	SourceURL   SourceType = "url"
	SourceImage SourceType = "image" // OCR 已在上游完成
)

// Valid 判断来源类型是否受支持。
func (s SourceType) Valid() bool {
	switch s {
	case SourceText, SourceURL, SourceImage:
		return true
	}
	return false
}

// 支持的语言代码。
const (
	LangAuto    = "auto"
	LangEnglish = "en"
	LangHindi   = "hi"
	LangTamil   = "ta"
	LangKannada = "kn"
)

// SupportedLanguages 是除 auto 以外可显式指定的语言。
var SupportedLanguages = []string{LangEnglish, LangHindi, LangTamil, LangKannada}

// IsSupportedLanguage 判断 lang 是否为受支持的语言（不含 auto）。
func IsSupportedLanguage(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// Claim 是一次核查请求中待验证的文本单元，只在请求生命周期内存在。
type Claim struct {
	Text       string     `json:"text"`
	Language   string     `json:"language"`
	SourceType SourceType `json:"source_type"`
}

// FoundBy 表示证据条目的发现方式。
type FoundBy string

const (
	FoundByCrawler FoundBy = "crawler"
	FoundByManual  FoundBy = "manual"
	FoundByAPI     FoundBy = "api"
)

// Evidence 是语料库中已索引的条目，流水线只读。
type Evidence struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Title         string    `json:"title,omitempty"`
	PublishedDate time.Time `json:"published_date"`
	Summary       string    `json:"summary"`
	FoundBy       FoundBy   `json:"found_by"`
	ScreenshotRef string    `json:"screenshot_ref,omitempty"`
	Label         Verdict   `json:"label,omitempty"` // 已核查条目的结论，可为空
	Language      string    `json:"language,omitempty"`
}

// ScoredEvidence 是带相似度的检索结果条目。
type ScoredEvidence struct {
	Evidence   Evidence `json:"evidence"`
	Similarity float64  `json:"similarity"`
}

// RetrievalResult 按相似度从高到低排列，长度不超过 K，可以为空。
type RetrievalResult struct {
	Items []ScoredEvidence `json:"items"`
}

// IDs 返回按顺序排列的证据 ID。
func (r RetrievalResult) IDs() []string {
	ids := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		ids = append(ids, it.Evidence.ID)
	}
	return ids
}

// Empty 判断检索结果是否为空。
func (r RetrievalResult) Empty() bool { return len(r.Items) == 0 }

// ScoreSet 是启发式与分类器的可疑度分数，均在 [0,1]。
type ScoreSet struct {
	HeuristicScore      float64  `json:"heuristic_score"`
	ClassifierScore     float64  `json:"classifier_score"`
	ClassifierAvailable bool     `json:"classifier_available"`
	MatchedRules        []string `json:"matched_rules,omitempty"`
	ModelVersion        string   `json:"model_version,omitempty"`
}

// Suspicion 把两个分数合并为一个可疑度，分类器不可用时只用启发式分数。
func (s ScoreSet) Suspicion() float64 {
	if !s.ClassifierAvailable {
		return s.HeuristicScore
	}
	return 0.6*s.ClassifierScore + 0.4*s.HeuristicScore
}

package models

import "strings"

// Verdict 是核查的分类结论。
type Verdict string

const (
	VerdictTrue          Verdict = "TRUE"
	VerdictFalse         Verdict = "FALSE"
	VerdictMisleading    Verdict = "MISLEADING"
	VerdictUnverified    Verdict = "UNVERIFIED"
	VerdictPartiallyTrue Verdict = "PARTIALLY_TRUE"
)

// ParseVerdict 宽松解析模型返回的结论字符串（大小写、空格、连字符）。
func ParseVerdict(s string) (Verdict, bool) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	switch Verdict(v) {
	case VerdictTrue, VerdictFalse, VerdictMisleading, VerdictUnverified, VerdictPartiallyTrue:
		return Verdict(v), true
	}
	return "", false
}

// Polarity 返回结论在 [-1,1] 上的方向：真为正，假为负。
func (v Verdict) Polarity() float64 {
	switch v {
	case VerdictTrue:
		return 1
	case VerdictPartiallyTrue:
		return 0.5
	case VerdictMisleading:
		return -0.5
	case VerdictFalse:
		return -1
	}
	return 0
}

// Definitive 判断结论是否为确定性结论（非 UNVERIFIED）。
func (v Verdict) Definitive() bool {
	return v != "" && v != VerdictUnverified
}

// Quiz 是迷你课程中的小测验。
type Quiz struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// MiniLesson 是针对虚假或误导性内容生成的简短媒介素养课程。
type MiniLesson struct {
	Lesson string   `json:"mini_lesson"`
	Tips   []string `json:"tips"`
	Quiz   *Quiz    `json:"quiz,omitempty"`
}

// LLMVerdict 是一次（故障转移之后的）模型调用得到的结构化分析。
type LLMVerdict struct {
	Verdict    Verdict     `json:"verdict"`
	Confidence int         `json:"confidence"`
	Reasons    []string    `json:"reasons"`
	Tip        string      `json:"one_line_tip,omitempty"`
	MiniLesson *MiniLesson `json:"mini_lesson,omitempty"`
	Provider   string      `json:"provider,omitempty"`
}

// SentinelReason 是分析不可用时的唯一理由。
const SentinelReason = "analysis unavailable"

// UnavailableVerdict 返回分析不可用时使用的哨兵结论。
func UnavailableVerdict() LLMVerdict {
	return LLMVerdict{
		Verdict:    VerdictUnverified,
		Confidence: 0,
		Reasons:    []string{SentinelReason},
	}
}

// IsSentinel 判断结论是否为哨兵结论。
func (v LLMVerdict) IsSentinel() bool {
	return v.Provider == "" && v.Verdict == VerdictUnverified && v.Confidence == 0 &&
		len(v.Reasons) == 1 && v.Reasons[0] == SentinelReason
}

package synthesizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"factforge/backend/go/internal/models"
)

// ErrNoJSON 表示模型输出中找不到 JSON 对象。
var ErrNoJSON = errors.New("no JSON object in model output")

// extractObject 取第一个 '{' 到最后一个 '}' 之间的文本。
func extractObject(text string) (string, error) {
	i := strings.Index(text, "{")
	j := strings.LastIndex(text, "}")
	if i < 0 || j < i {
		return "", ErrNoJSON
	}
	return text[i : j+1], nil
}

type rawVerdict struct {
	Verdict    string          `json:"verdict"`
	Confidence json.RawMessage `json:"confidence"`
	Reasons    json.RawMessage `json:"reasons"`
	Tip        string          `json:"one_line_tip"`
}

// ParseVerdict 解析模型输出。结论必须合法，置信度截断到 [0,100]，至少一条理由。
func ParseVerdict(text string) (models.LLMVerdict, error) {
	obj, err := extractObject(text)
	if err != nil {
		return models.LLMVerdict{}, err
	}
	var raw rawVerdict
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return models.LLMVerdict{}, fmt.Errorf("decode verdict: %w", err)
	}

	v, ok := models.ParseVerdict(raw.Verdict)
	if !ok {
		return models.LLMVerdict{}, fmt.Errorf("unknown verdict %q", raw.Verdict)
	}
	conf, err := parseConfidence(raw.Confidence)
	if err != nil {
		return models.LLMVerdict{}, err
	}
	reasons := parseReasons(raw.Reasons)
	if len(reasons) == 0 {
		return models.LLMVerdict{}, errors.New("verdict has no reasons")
	}
	return models.LLMVerdict{
		Verdict:    v,
		Confidence: conf,
		Reasons:    reasons,
		Tip:        strings.TrimSpace(raw.Tip),
	}, nil
}

// parseConfidence 接受数字或数字字符串（可带 %）。
func parseConfidence(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("missing confidence")
	}
	var f float64
	text, percent := string(raw), false
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("invalid confidence %s", raw)
		}
		s = strings.TrimSpace(s)
		percent = strings.HasSuffix(s, "%")
		text = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		f, err = strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid confidence %q", text)
		}
	}
	if math.IsNaN(f) {
		return 0, errors.New("confidence is NaN")
	}
	// 带小数点且不超过 1 的值视为比例，整数 1 和百分号写法按百分数处理
	if !percent && f > 0 && f <= 1 && strings.ContainsAny(text, ".eE") {
		f *= 100
	}
	return int(math.Round(math.Max(0, math.Min(100, f)))), nil
}

// parseReasons 接受字符串数组或单个字符串，丢弃空白项。
func parseReasons(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var one string
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil
		}
		list = []string{one}
	}
	out := make([]string, 0, len(list))
	for _, r := range list {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// ParseLesson 解析迷你课程输出。课程正文和至少一条建议是必需的，测验无效时丢弃。
func ParseLesson(text string) (*models.MiniLesson, error) {
	obj, err := extractObject(text)
	if err != nil {
		return nil, err
	}
	var l models.MiniLesson
	if err := json.Unmarshal([]byte(obj), &l); err != nil {
		return nil, fmt.Errorf("decode lesson: %w", err)
	}
	l.Lesson = strings.TrimSpace(l.Lesson)
	if l.Lesson == "" {
		return nil, errors.New("lesson is empty")
	}
	tips := l.Tips[:0]
	for _, t := range l.Tips {
		if t = strings.TrimSpace(t); t != "" {
			tips = append(tips, t)
		}
	}
	if len(tips) == 0 {
		return nil, errors.New("lesson has no tips")
	}
	l.Tips = tips
	if l.Quiz != nil && (l.Quiz.Question == "" || len(l.Quiz.Options) < 2 || l.Quiz.Answer == "") {
		l.Quiz = nil
	}
	return &l, nil
}

package scorer

import (
	"regexp"
	"sort"
	"strings"

	"factforge/backend/go/internal/models"
)

// Rule 是一条启发式规则。Languages 为空表示适用于所有语言。
type Rule struct {
	Name      string
	Weight    float64
	Languages []string
	Match     func(text, lower string) bool
}

func (r Rule) appliesTo(lang string) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, l := range r.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// 规则权重。
const (
	WeightScamKeyword   = 0.5
	WeightUrgency       = 0.35
	WeightUPIHandle     = 0.75
	WeightPhone         = 0.5
	WeightRupee         = 0.25
	WeightShortLink     = 0.3
	WeightPaymentDemand = 0.4
)

var scamKeywords = map[string][]string{
	models.LangEnglish: {"urgent", "limited time", "act now", "guaranteed", "free money", "lottery", "winner", "prize", "claim now"},
	models.LangHindi:   {"तत्काल", "सीमित समय", "अभी करें", "गारंटी", "मुफ्त पैसा", "लॉटरी", "विजेता", "इनाम"},
	models.LangTamil:   {"அவசரம்", "வரம்புக்குட்பட்ட நேரம்", "இப்போது செய்யுங்கள்", "உத்தரவாதம்", "இலவச பணம்", "லாட்டரி", "வெற்றியாளர்"},
	models.LangKannada: {"ತುರ್ತು", "ಸೀಮಿತ ಸಮಯ", "ಈಗ ಮಾಡಿ", "ಖಾತರಿ", "ಉಚಿತ ಹಣ", "ಲಾಟರಿ", "ವಿಜೇತ"},
}

var urgencyWords = []string{"urgent", "immediate", "hurry", "limited", "expires"}

var (
	upiPattern    = regexp.MustCompile(`\b[\w.\-]+@[a-zA-Z]+\b`)
	phonePattern  = regexp.MustCompile(`(\+91|91)?[6-9]\d{9}`)
	rupeePattern  = regexp.MustCompile(`(₹|\brs\.?|\binr)\s*\d+`)
	shortLinkRe   = regexp.MustCompile(`\b(bit\.ly|tinyurl\.com|goo\.gl|t\.co|is\.gd|cutt\.ly|rb\.gy|ow\.ly|shorturl\.at)/\S+`)
	paymentDemand = regexp.MustCompile(`\b(send|transfer|pay|deposit)\b.{0,40}?(₹\s*\d+|\brs\.?\s*\d+|\b\d{3,}\b)`)
)

// DefaultRules 返回按名称排序的内置规则集。英语关键词对所有语言生效。
func DefaultRules() []Rule {
	var rules []Rule
	for lang, words := range scamKeywords {
		var langs []string
		if lang != models.LangEnglish {
			langs = []string{lang}
		}
		for _, w := range words {
			rules = append(rules, keywordRule("keyword:"+w, w, WeightScamKeyword, langs))
		}
	}
	for _, w := range urgencyWords {
		rules = append(rules, keywordRule("urgency:"+w, w, WeightUrgency, nil))
	}
	rules = append(rules,
		Rule{Name: "upi_handle", Weight: WeightUPIHandle, Match: func(text, _ string) bool { return hasUPIHandle(text) }},
		Rule{Name: "phone_number", Weight: WeightPhone, Match: func(text, _ string) bool { return phonePattern.MatchString(text) }},
		Rule{Name: "rupee_amount", Weight: WeightRupee, Match: func(_, lower string) bool { return rupeePattern.MatchString(lower) }},
		Rule{Name: "short_link", Weight: WeightShortLink, Match: func(_, lower string) bool { return shortLinkRe.MatchString(lower) }},
		Rule{Name: "payment_demand", Weight: WeightPaymentDemand, Match: func(_, lower string) bool { return paymentDemand.MatchString(lower) }},
	)
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}

// keywordRule 对拉丁字母关键词按整词匹配，其它脚本使用子串匹配。
func keywordRule(name, keyword string, weight float64, langs []string) Rule {
	var match func(string) bool
	if isASCII(keyword) {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(keyword) + `\b`)
		match = re.MatchString
	} else {
		match = func(lower string) bool { return strings.Contains(lower, keyword) }
	}
	return Rule{Name: name, Weight: weight, Languages: langs, Match: func(_, lower string) bool { return match(lower) }}
}

// hasUPIHandle 排除后面紧跟域名后缀的电子邮件地址。
func hasUPIHandle(text string) bool {
	for _, loc := range upiPattern.FindAllStringIndex(text, -1) {
		if loc[1] < len(text) && text[loc[1]] == '.' && loc[1]+1 < len(text) && isLetter(text[loc[1]+1]) {
			continue
		}
		return true
	}
	return false
}

func isLetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}

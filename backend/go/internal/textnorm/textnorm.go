// Package textnorm 负责声明文本的清洗、Unicode 规范化和语言识别。
package textnorm

import (
	"html"
	"strings"
	"unicode"

	"factforge/backend/go/internal/models"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strict = bluemonday.StrictPolicy()

// Sanitize 去除 HTML 标记并还原实体，折叠空白后返回。
func Sanitize(text string) string {
	cleaned := html.UnescapeString(strict.Sanitize(text))
	return strings.Join(strings.Fields(cleaned), " ")
}

// Normalized 是规范化后的文本。Text 用于提示词和嵌入，Lower 用于规则匹配。
type Normalized struct {
	Text  string
	Lower string
}

// Normalize 对文本做 NFC 规范化并清洗。印度语系脚本的组合字符在比较前必须统一形式。
func Normalize(text string) Normalized {
	t := Sanitize(norm.NFC.String(text))
	return Normalized{Text: t, Lower: strings.ToLower(t)}
}

// Detection 是语言识别结果。
type Detection struct {
	Language   string
	Confidence float64
	// Transliterated 表示拉丁字母书写的印地语（例如 "yeh sach hai"）。
	Transliterated bool
}

var englishStopWords = map[string]bool{
	"the": true, "and": true, "is": true, "in": true, "to": true,
	"of": true, "a": true, "that": true, "it": true, "with": true,
}

var romanizedHindi = map[string]bool{
	"hai": true, "hain": true, "ka": true, "ki": true, "ke": true,
	"ko": true, "se": true, "mein": true, "par": true, "aur": true,
}

// Detect 按脚本范围识别语言，拉丁字母文本按英语停用词比例给出置信度。
func Detect(text string) Detection {
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Tamil):
			return Detection{Language: models.LangTamil, Confidence: 0.9}
		case unicode.In(r, unicode.Devanagari):
			return Detection{Language: models.LangHindi, Confidence: 0.9}
		case unicode.In(r, unicode.Kannada):
			return Detection{Language: models.LangKannada, Confidence: 0.9}
		}
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	seen := make(map[string]bool)
	hindi := 0
	for _, w := range words {
		if englishStopWords[w] {
			seen[w] = true
		}
		if romanizedHindi[w] {
			hindi++
		}
	}
	d := Detection{Language: models.LangEnglish, Confidence: 0.5, Transliterated: hindi >= 3}
	if ratio := float64(len(seen)) / float64(len(englishStopWords)); ratio > 0.3 {
		d.Confidence = ratio
	}
	return d
}

// Resolve 返回请求使用的语言。auto 或空值时自动识别，显式语言置信度为 1。
func Resolve(requested, text string) Detection {
	if requested == "" || requested == models.LangAuto {
		return Detect(text)
	}
	return Detection{Language: requested, Confidence: 1}
}

package api

import (
	"context"
	"time"

	"factforge/backend/go/internal/models"
)

// evidenceView 是旧客户端使用的证据条目格式。
type evidenceView struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	Title         string         `json:"title,omitempty"`
	Summary       string         `json:"summary"`
	PublishedDate time.Time      `json:"published_date"`
	FoundBy       models.FoundBy `json:"found_by"`
	Similarity    float64        `json:"similarity"`
	Label         models.Verdict `json:"label,omitempty"`
	ScreenshotURL string         `json:"screenshot_url,omitempty"`
}

// checkView 在 CheckResponse 之上补充旧版字段，不修改模型本身。
type checkView struct {
	*models.CheckResponse
	EvidenceList     []evidenceView `json:"evidence_list"`
	RetrievedIDs     []string       `json:"retrieved_ids"`
	LanguageDetected string         `json:"language_detected"`
}

// renderCheck 生成 /check 的响应体。截图引用在能签名时转换为限时 URL。
func (a *API) renderCheck(ctx context.Context, resp *models.CheckResponse) checkView {
	list := make([]evidenceView, 0, len(resp.Evidence))
	for _, se := range resp.Evidence {
		ev := se.Evidence
		v := evidenceView{
			ID:            ev.ID,
			URL:           ev.URL,
			Title:         ev.Title,
			Summary:       ev.Summary,
			PublishedDate: ev.PublishedDate,
			FoundBy:       ev.FoundBy,
			Similarity:    se.Similarity,
			Label:         ev.Label,
		}
		if ev.ScreenshotRef != "" && a.screenshots != nil {
			if u, err := a.screenshots.Presign(ctx, ev.ScreenshotRef); err == nil {
				v.ScreenshotURL = u
			} else {
				a.log.WithField("evidence_id", ev.ID).WithError(models.NewErrorInfo(err, "DependencyUnavailable")).Debug("截图签名失败")
			}
		}
		list = append(list, v)
	}
	ids := resp.EvidenceIDs
	if ids == nil {
		ids = []string{}
	}
	return checkView{
		CheckResponse:    resp,
		EvidenceList:     list,
		RetrievedIDs:     ids,
		LanguageDetected: resp.Language,
	}
}

package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/auth"
	"factforge/backend/go/internal/config"
	"factforge/backend/go/internal/events"
	"factforge/backend/go/internal/models"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 3 * time.Second

type switchRequest struct {
	Provider string `json:"provider"`
}

// thresholdsRequest 中每个语言只需给出要修改的字段。
type thresholdsRequest struct {
	Thresholds map[string]config.ThresholdPatch `json:"thresholds"`
}

// LLMStatus 处理 GET /admin/llm/status。
func (a *API) LLMStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active":    a.providers.Active(),
		"providers": a.providers.Status(),
	})
}

// LLMSwitch 处理 POST /admin/llm/switch。切换成功后写审计并广播事件。
func (a *API) LLMSwitch(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Provider == "" {
		a.badRequest(c, "需要 provider 字段")
		return
	}
	ctx := c.Request.Context()
	actor := auth.Identity(c)
	from := a.providers.Active()
	if err := a.providers.Switch(ctx, req.Provider); err != nil {
		a.fail(c, err)
		return
	}
	payload := map[string]interface{}{"from": from, "to": req.Provider, "actor": actor.UserID}
	if !a.recordAdmin(c, models.AuditProviderSwitched, payload) {
		return
	}
	a.publish(ctx, models.EventProviderSwitched, payload)
	c.JSON(http.StatusOK, gin.H{"success": true, "active": a.providers.Active()})
}

// UpdateThresholds 处理 POST /admin/models/update。
func (a *API) UpdateThresholds(c *gin.Context) {
	var req thresholdsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Thresholds) == 0 {
		a.badRequest(c, "需要 thresholds 字段")
		return
	}
	ctx := c.Request.Context()
	actor := auth.Identity(c)
	snap, err := a.thresholds.Update(ctx, req.Thresholds, actor.UserID)
	if err != nil {
		a.fail(c, err)
		return
	}
	payload := map[string]interface{}{"version": snap.Version, "changed": req.Thresholds, "actor": actor.UserID}
	if !a.recordAdmin(c, models.AuditThresholdsUpdated, payload) {
		return
	}
	a.publish(ctx, models.EventThresholdsUpdated, map[string]interface{}{"version": snap.Version, "languages": snap.Languages()})
	c.JSON(http.StatusOK, gin.H{"success": true, "thresholds": snap})
}

// GetThresholds 处理 GET /admin/thresholds。
func (a *API) GetThresholds(c *gin.Context) {
	c.JSON(http.StatusOK, a.thresholds.Load())
}

// GetModels 处理 GET /admin/models：当前提供方和生效的阈值快照。
func (a *API) GetModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_llm": a.providers.Active(),
		"providers":  a.providers.Status(),
		"thresholds": a.thresholds.Load(),
	})
}

// Stats 处理 GET /admin/stats：进程内的核查计数和复核队列计数。
func (a *API) Stats(c *gin.Context) {
	rs, err := a.review.Stats(c.Request.Context(), "")
	if err != nil {
		a.fail(c, err)
		return
	}
	snap := a.thresholds.Load()
	c.JSON(http.StatusOK, gin.H{
		"checks":          a.checker.Stats(),
		"reviews":         rs.Counts,
		"pending_reviews": rs.Counts[models.ReviewPending],
		"active_models": gin.H{
			"llm":                a.providers.Active(),
			"thresholds_version": snap.Version,
		},
	})
}

// recordAdmin 为已生效的管理操作写审计。失败时响应 503，变更本身不回滚。
func (a *API) recordAdmin(c *gin.Context, eventType string, payload map[string]interface{}) bool {
	if _, err := a.audit.Append(c.Request.Context(), eventType, payload); err != nil {
		a.requestLog(c).WithField("type", "security").
			WithError(models.NewErrorInfo(err, string(apperr.KindDependencyUnavailable))).
			Error("管理操作已生效但审计写入失败")
		a.fail(c, apperr.Wrap(apperr.KindDependencyUnavailable, "api.recordAdmin", err))
		return false
	}
	return true
}

func (a *API) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if err := a.events.Publish(ctx, events.New(eventType, data)); err != nil {
		a.log.WithField("event", eventType).WithError(models.NewErrorInfo(err, "DependencyUnavailable")).Warn("发布事件失败")
	}
}

// VerifyAudit 处理 GET /admin/audit/verify?id=。签名不匹配返回 valid=false 并记录安全日志。
func (a *API) VerifyAudit(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		a.badRequest(c, "需要 id 参数")
		return
	}
	err := a.audit.Verify(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"id": id, "valid": true})
	case errors.Is(err, apperr.ErrSignatureMismatch):
		a.requestLog(c).WithPayload(map[string]interface{}{"type": "security", "audit_id": id}).Warn("审计条目签名不匹配")
		c.JSON(http.StatusOK, gin.H{"id": id, "valid": false, "error": string(apperr.KindSignatureMismatch)})
	default:
		a.fail(c, err)
	}
}

// ListAudit 处理 GET /admin/audit?event_type=&limit=&offset=。
func (a *API) ListAudit(c *gin.Context) {
	limit, err1 := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, err2 := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err1 != nil || err2 != nil {
		a.badRequest(c, "limit 和 offset 必须是整数")
		return
	}
	entries, err := a.audit.List(c.Request.Context(), c.Query("event_type"), limit, offset)
	if err != nil {
		a.fail(c, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// Health 处理 GET /admin/health，并行探测全部依赖。
func (a *API) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(a.health))
	)
	for name, probe := range a.health {
		wg.Add(1)
		go func(name string, probe HealthCheck) {
			defer wg.Done()
			result := "ok"
			if err := probe(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			checks[name] = result
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)
	status, code := "ok", http.StatusOK
	var failing []string
	for _, n := range names {
		if checks[n] != "ok" {
			failing = append(failing, n)
		}
	}
	if len(failing) > 0 {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"checks":    checks,
		"failing":   failing,
		"providers": a.providers.Status(),
	})
}

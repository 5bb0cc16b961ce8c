package api

import (
	"net/http"
	"strconv"

	"factforge/backend/go/internal/auth"
	"factforge/backend/go/internal/models"

	"github.com/gin-gonic/gin"
)

type actionRequest struct {
	Action models.ReviewAction `json:"action"`
	Note   string              `json:"note"`
}

type noteRequest struct {
	Note string `json:"note"`
}

type reopenRequest struct {
	Reviewer string `json:"reviewer"`
}

// bindOptional 解析可选的请求体，空请求体视为零值。
func bindOptional(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return c.ShouldBindJSON(v) == nil
}

// ReviewQueue 处理 GET /review/queue。status 缺省为 pending，all 表示全部状态；mine=true 只看分配给自己的条目。
func (a *API) ReviewQueue(c *gin.Context) {
	status := models.ReviewStatus(c.DefaultQuery("status", string(models.ReviewPending)))
	if status == "all" {
		status = ""
	}
	assigned := c.Query("assigned_to")
	if c.Query("mine") == "true" {
		assigned = auth.Identity(c).UserID
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.badRequest(c, "limit 必须是非负整数")
			return
		}
		limit = n
	}
	page, err := a.review.List(c.Request.Context(), status, assigned, c.Query("cursor"), limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ReviewStats 处理 GET /review/stats。
func (a *API) ReviewStats(c *gin.Context) {
	st, err := a.review.Stats(c.Request.Context(), auth.Identity(c).UserID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ReviewGet 处理 GET /review/:id。
func (a *API) ReviewGet(c *gin.Context) {
	it, err := a.review.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// ReviewAssign 处理 POST /review/:id/assign，把条目分配给调用方。
func (a *API) ReviewAssign(c *gin.Context) {
	it, err := a.review.Assign(c.Request.Context(), c.Param("id"), auth.Identity(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// ReviewAction 处理 POST /review/:id/action。
func (a *API) ReviewAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "请求体格式不正确")
		return
	}
	it, err := a.review.Act(c.Request.Context(), c.Param("id"), auth.Identity(c), req.Action, req.Note)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "item": it})
}

// ReviewEscalate 处理 POST /review/:id/escalate。
func (a *API) ReviewEscalate(c *gin.Context) {
	var req noteRequest
	if !bindOptional(c, &req) {
		a.badRequest(c, "请求体格式不正确")
		return
	}
	it, err := a.review.Escalate(c.Request.Context(), c.Param("id"), auth.Identity(c), req.Note)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "item": it})
}

// ReviewReopen 处理 POST /review/:id/reopen（管理员）。
func (a *API) ReviewReopen(c *gin.Context) {
	var req reopenRequest
	if !bindOptional(c, &req) {
		a.badRequest(c, "请求体格式不正确")
		return
	}
	it, err := a.review.Reopen(c.Request.Context(), c.Param("id"), auth.Identity(c), req.Reviewer)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "item": it})
}

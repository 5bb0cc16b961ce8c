package api

import (
	"net/http"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/auth"
	"factforge/backend/go/internal/models"
	"factforge/backend/go/pkg/httpmiddleware"
	"factforge/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusFor 把错误类别映射为 HTTP 状态码。
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDependencyUnavailable, apperr.KindAllProvidersExhausted:
		return http.StatusServiceUnavailable
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail 写出统一格式的错误响应。内部错误不向调用方暴露细节。
func (a *API) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	msg := apperr.Message(err)
	log := a.requestLog(c).WithError(models.NewErrorInfo(err, string(kind)))
	switch {
	case status == http.StatusInternalServerError:
		kind = apperr.KindInternal
		msg = "internal error"
		log.Error("请求处理失败")
	case kind == apperr.KindForbidden:
		log.WithField("type", "security").Warn("拒绝越权操作")
	case status >= http.StatusInternalServerError:
		log.Warn("依赖不可用")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": string(kind), "message": msg})
}

func (a *API) badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": string(apperr.KindValidation), "message": msg})
}

func (a *API) requestLog(c *gin.Context) *logger.Logger {
	return a.log.WithTrace(httpmiddleware.TraceID(c), auth.Identity(c).UserID)
}

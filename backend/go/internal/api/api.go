// Package api 提供核查服务的 REST 与 websocket 接口。
package api

import (
	"context"
	"net/http"
	"time"

	"factforge/backend/go/internal/auth"
	"factforge/backend/go/internal/config"
	"factforge/backend/go/internal/events"
	"factforge/backend/go/internal/models"
	"factforge/backend/go/internal/pipeline"
	"factforge/backend/go/internal/runtimeconfig"
	"factforge/backend/go/pkg/httpmiddleware"
	"factforge/backend/go/pkg/logger"
	"factforge/backend/go/pkg/ratelimiter"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Checker 执行核查并统计已返回的结论。
type Checker interface {
	Check(ctx context.Context, req models.CheckRequest, id models.Identity) (*models.CheckResponse, error)
	Stats() pipeline.Stats
}

// ReviewService 是复核队列的操作集合。
type ReviewService interface {
	List(ctx context.Context, status models.ReviewStatus, assignedTo, cursor string, limit int) (*models.ReviewPage, error)
	Stats(ctx context.Context, reviewer string) (*models.ReviewStats, error)
	Get(ctx context.Context, id string) (*models.ReviewItem, error)
	Assign(ctx context.Context, id string, actor models.Identity) (*models.ReviewItem, error)
	Act(ctx context.Context, id string, actor models.Identity, action models.ReviewAction, note string) (*models.ReviewItem, error)
	Escalate(ctx context.Context, id string, actor models.Identity, note string) (*models.ReviewItem, error)
	Reopen(ctx context.Context, id string, actor models.Identity, reviewer string) (*models.ReviewItem, error)
}

// Providers 管理大模型提供方。
type Providers interface {
	Active() string
	Status() []runtimeconfig.ProviderStatus
	Switch(ctx context.Context, name string) error
}

// Thresholds 读写路由阈值。
type Thresholds interface {
	Load() *runtimeconfig.ThresholdSnapshot
	Update(ctx context.Context, patch map[string]config.ThresholdPatch, actor string) (*runtimeconfig.ThresholdSnapshot, error)
}

// AuditLog 是签名审计日志。
type AuditLog interface {
	Append(ctx context.Context, eventType string, payload interface{}) (models.AuditEntry, error)
	Verify(ctx context.Context, id string) error
	List(ctx context.Context, eventType string, limit, offset int) ([]models.AuditEntry, error)
}

// Presigner 把截图对象名转换为可访问的 URL。
type Presigner interface {
	Presign(ctx context.Context, object string) (string, error)
}

// Hub 接管 websocket 连接。
type Hub interface {
	Serve(conn *websocket.Conn, id models.Identity)
}

// HealthCheck 探测一个依赖。
type HealthCheck func(ctx context.Context) error

// Deps 是 API 的依赖。Screenshots、Limiter、Health 可以为空。
type Deps struct {
	Auth        *auth.Authenticator
	Checker     Checker
	Review      ReviewService
	Providers   Providers
	Thresholds  Thresholds
	Audit       AuditLog
	Events      events.Publisher
	Hub         Hub
	Screenshots Presigner
	Limiter     *ratelimiter.KeyedLimiter
	Health      map[string]HealthCheck
	Origins     []string
	Logger      *logger.Logger
}

// API 持有处理器依赖。
type API struct {
	auth        *auth.Authenticator
	checker     Checker
	review      ReviewService
	providers   Providers
	thresholds  Thresholds
	audit       AuditLog
	events      events.Publisher
	hub         Hub
	screenshots Presigner
	limiter     *ratelimiter.KeyedLimiter
	health      map[string]HealthCheck
	origins     []string
	log         *logger.Logger
	upgrader    websocket.Upgrader
}

// New 创建 API。
func New(d Deps) *API {
	a := &API{
		auth:        d.Auth,
		checker:     d.Checker,
		review:      d.Review,
		providers:   d.Providers,
		thresholds:  d.Thresholds,
		audit:       d.Audit,
		events:      d.Events,
		hub:         d.Hub,
		screenshots: d.Screenshots,
		limiter:     d.Limiter,
		health:      d.Health,
		origins:     d.Origins,
		log:         d.Logger,
	}
	if a.events == nil {
		a.events = events.Nop{}
	}
	if a.log == nil {
		a.log = logger.Nop()
	}
	a.upgrader = websocket.Upgrader{CheckOrigin: a.checkOrigin}
	return a
}

func (a *API) allowAllOrigins() bool {
	if len(a.origins) == 0 {
		return true
	}
	for _, o := range a.origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || a.allowAllOrigins() {
		return true
	}
	for _, o := range a.origins {
		if o == origin {
			return true
		}
	}
	return false
}

func (a *API) cors() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", httpmiddleware.TraceHeader},
		ExposeHeaders: []string{httpmiddleware.TraceHeader},
		MaxAge:        12 * time.Hour,
	}
	if a.allowAllOrigins() {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = a.origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// rateKey 已登录用户按用户限流，匿名请求按来源地址限流。
func rateKey(c *gin.Context) string {
	if id := auth.Identity(c); !id.Anonymous() {
		return "user:" + id.UserID
	}
	return "ip:" + c.ClientIP()
}

// require 在 auth.Require 之上记录越权访问。
func (a *API) require(min models.Role) gin.HandlerFunc {
	inner := auth.Require(min)
	return func(c *gin.Context) {
		inner(c)
		if c.IsAborted() && c.Writer.Status() == http.StatusForbidden {
			a.requestLog(c).WithPayload(map[string]interface{}{
				"type": "security", "path": c.FullPath(), "role": auth.Identity(c).Role,
			}).Warn("拒绝越权访问")
		}
	}
}

// Router 注册全部路由。
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpmiddleware.Trace(), a.cors(), a.auth.Optional(), httpmiddleware.AccessLog(a.log))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ws", a.WebSocket)

	check := []gin.HandlerFunc{}
	if a.limiter != nil {
		check = append(check, httpmiddleware.RateLimit(a.limiter, rateKey))
	}
	r.POST("/check", append(check, a.Check)...)

	rv := r.Group("/review", a.require(models.RoleReviewer))
	{
		rv.GET("/queue", a.ReviewQueue)
		rv.GET("/stats", a.ReviewStats)
		rv.GET("/:id", a.ReviewGet)
		rv.POST("/:id/assign", a.ReviewAssign)
		rv.POST("/:id/action", a.ReviewAction)
		rv.POST("/:id/escalate", a.ReviewEscalate)
		rv.POST("/:id/reopen", a.require(models.RoleAdmin), a.ReviewReopen)
	}

	adm := r.Group("/admin", a.require(models.RoleAdmin))
	{
		adm.GET("/llm/status", a.LLMStatus)
		adm.POST("/llm/switch", a.LLMSwitch)
		adm.GET("/models", a.GetModels)
		adm.POST("/models/update", a.UpdateThresholds)
		adm.GET("/thresholds", a.GetThresholds)
		adm.GET("/stats", a.Stats)
		adm.GET("/audit/verify", a.VerifyAudit)
		adm.GET("/audit", a.ListAudit)
		adm.GET("/health", a.Health)
	}
	return r
}

// Check 处理 POST /check。
func (a *API) Check(c *gin.Context) {
	var req models.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "请求体格式不正确")
		return
	}
	resp, err := a.checker.Check(c.Request.Context(), req, auth.Identity(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a.renderCheck(c.Request.Context(), resp))
}

// WebSocket 把连接升级后交给 Hub。
func (a *API) WebSocket(c *gin.Context) {
	id := auth.Identity(c)
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.requestLog(c).WithError(models.NewErrorInfo(err, "WebSocketError")).Warn("websocket 升级失败")
		return
	}
	a.hub.Serve(conn, id)
}

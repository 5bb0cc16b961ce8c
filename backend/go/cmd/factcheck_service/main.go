package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"factforge/backend/go/internal/api"
	"factforge/backend/go/internal/audit"
	"factforge/backend/go/internal/auth"
	"factforge/backend/go/internal/config"
	dbkafka "factforge/backend/go/internal/database/kafka"
	"factforge/backend/go/internal/discovery/etcd"
	"factforge/backend/go/internal/embedding"
	"factforge/backend/go/internal/events"
	"factforge/backend/go/internal/llm"
	"factforge/backend/go/internal/models"
	"factforge/backend/go/internal/pipeline"
	"factforge/backend/go/internal/retriever"
	"factforge/backend/go/internal/review"
	"factforge/backend/go/internal/runtimeconfig"
	"factforge/backend/go/internal/scorer"
	"factforge/backend/go/internal/synthesizer"
	grpcserver "factforge/backend/go/pkg/grpc"
	httpserver "factforge/backend/go/pkg/http"
	"factforge/backend/go/pkg/logger"
	"factforge/backend/go/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	serviceName   = "factforge.check"
	defaultConfig = "backend/go/internal/config/config.yaml"
)

func main() {
	path := os.Getenv("FACTFORGE_CONFIG")
	if path == "" {
		path = defaultConfig
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Logger.Level)
	if err != nil {
		logrus.Fatalf("日志级别无效: %v", err)
	}
	logger.Init(level)
	log := logger.New("FactcheckService", "", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := openStorage(ctx, cfg, log)

	signer, err := audit.NewSigner(cfg.Audit.HMACKey)
	if err != nil {
		fatal(log, err, "初始化审计签名失败")
	}
	auditLog := audit.NewLog(signer, st.audit)

	// 大模型提供方与运行时配置
	providers, err := llm.NewClients(ctx, cfg.LLM.Providers)
	if err != nil {
		fatal(log, err, "初始化大模型客户端失败")
	}
	defer llm.CloseAll(providers)
	registry, err := runtimeconfig.NewProviderRegistry(providers, cfg.LLM.Active, cfg.LLM.CircuitBreaker, nil, log)
	if err != nil {
		fatal(log, err, "初始化提供方注册表失败")
	}
	defer registry.Close()
	thresholds, err := runtimeconfig.NewThresholdStore(cfg.Thresholds)
	if err != nil {
		fatal(log, err, "初始化阈值失败")
	}

	var discovery *etcd.ServiceDiscovery
	if len(cfg.Databases.Etcd.Endpoints) > 0 {
		discovery, err = etcd.NewServiceDiscovery(cfg.Databases.Etcd, log)
		if err != nil {
			fatal(log, err, "连接 etcd 失败")
		}
		defer discovery.Close()
		syncRuntimeConfig(ctx, discovery, registry, thresholds, log)
		if err := discovery.Register(ctx, serviceName, cfg.Server.Address, cfg.Databases.Etcd.LeaseTTL); err != nil {
			log.WithError(models.NewErrorInfo(err, "DependencyUnavailable")).Warn("服务注册失败")
		}
		st.probes["etcd"] = discovery.HealthCheck
	}

	// 检索
	inner, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		fatal(log, err, "初始化嵌入模型失败")
	}
	embedder, err := embedding.NewCachedModel(inner, cfg.Embedding.CacheSize, config.Duration(cfg.Embedding.CacheTTL, 24*time.Hour), st.embedCache, log)
	if err != nil {
		fatal(log, err, "初始化嵌入缓存失败")
	}
	ret := retriever.New(embedder, st.index, st.evidence, cfg.Pipeline.TopK, cfg.Pipeline.MinSimilarity, log)
	ingester := retriever.NewIngester(embedder, st.index, st.evidence)

	var classifier scorer.Classifier
	if cfg.Classifier.Endpoint != "" {
		classifier = scorer.NewHTTPClassifier(cfg.Classifier)
	}
	sc := scorer.New(classifier, scorer.WithLogger(log))
	synth := synthesizer.New(registry,
		synthesizer.WithAttemptTimeout(config.Duration(cfg.LLM.AttemptTimeout, 8*time.Second)),
		synthesizer.WithLessonTimeout(config.Duration(cfg.LLM.LessonTimeout, 5*time.Second)),
		synthesizer.WithLogger(log),
	)

	// 事件：websocket 推送，配置了 Kafka 时同时写入事件主题
	hub := events.NewHub(log)
	publisher := events.Fanout{hub}
	var (
		kafkaPub *events.KafkaPublisher
		crawler  *events.CrawlerConsumer
	)
	if kc := cfg.Databases.Kafka; len(kc.Brokers) > 0 {
		kafkaPub = events.NewKafkaPublisher(dbkafka.NewWriter(kc.Brokers, kc.EventsTopic), log)
		publisher = append(publisher, kafkaPub)
		crawler = events.NewCrawlerConsumer(dbkafka.NewReader(kc.Brokers, kc.CrawlerTopic, kc.GroupID), publisher, ingester, log)
	}

	queue := review.NewService(st.reviews, auditLog, publisher, log)
	checker := pipeline.New(pipeline.Deps{
		Scorer:      sc,
		Retriever:   ret,
		Synthesizer: synth,
		Thresholds:  thresholds,
		Audit:       auditLog,
		Queue:       queue,
		Events:      publisher,
	}, append(pipeline.ConfigOptions(cfg.Pipeline), pipeline.WithLogger(log))...)

	authn, err := auth.NewAuthenticator(cfg.Auth.JwtSecret, cfg.Auth.Issuer, time.Duration(cfg.Auth.TokenTTL)*time.Second)
	if err != nil {
		fatal(log, err, "初始化认证失败")
	}
	var limiter *ratelimiter.KeyedLimiter
	if rl := cfg.Middleware.RateLimiter; rl.Enabled {
		limiter, err = ratelimiter.NewKeyedLimiter(rl.TokenBucket.Rate, rl.TokenBucket.Capacity, rl.MaxClients)
		if err != nil {
			fatal(log, err, "初始化限流器失败")
		}
	}

	health := make(map[string]api.HealthCheck, len(st.probes))
	grpcProbes := make(map[string]grpcserver.Probe, len(st.probes))
	for name, p := range st.probes {
		health[name] = p
		grpcProbes[name] = p
	}
	deps := api.Deps{
		Auth:       authn,
		Checker:    checker,
		Review:     queue,
		Providers:  registry,
		Thresholds: thresholds,
		Audit:      auditLog,
		Events:     publisher,
		Hub:        hub,
		Limiter:    limiter,
		Health:     health,
		Origins:    cfg.Server.AllowedOrigins,
		Logger:     log,
	}
	if st.screenshots != nil {
		deps.Screenshots = st.screenshots
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpSrv, err := httpserver.NewServer(cfg, api.New(deps).Router(), httpserver.WithLogger(log))
	if err != nil {
		fatal(log, err, "创建 HTTP 服务器失败")
	}
	grpcSrv, err := grpcserver.NewServer(cfg, grpcserver.WithLogger(log))
	if err != nil {
		fatal(log, err, "创建 gRPC 服务器失败")
	}
	reporter := grpcserver.NewHealthReporter(grpcSrv.Health(), serviceName, grpcProbes, 15*time.Second, log)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil {
			fatal(log, err, "HTTP 服务器启动失败")
		}
	}()
	go func() {
		if err := grpcSrv.ListenAndServe(); err != nil {
			fatal(log, err, "gRPC 服务器启动失败")
		}
	}()
	go reporter.Run(ctx)
	if crawler != nil {
		go func() {
			if err := crawler.Run(ctx); err != nil {
				log.WithError(models.NewErrorInfo(err, "DependencyUnavailable")).Error("爬虫消费者退出")
			}
		}()
		log.Info("爬虫消费者已启动")
	}

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("正在关闭服务...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(models.NewErrorInfo(err, "ShutdownError")).Error("HTTP 服务器强制关闭")
	}
	grpcSrv.StopContext(shutdownCtx)
	cancel()
	hub.Close()
	if crawler != nil {
		if err := crawler.Close(); err != nil {
			log.WithError(models.NewErrorInfo(err, "ShutdownError")).Error("关闭爬虫消费者失败")
		}
	}
	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			log.WithError(models.NewErrorInfo(err, "ShutdownError")).Error("关闭 Kafka 事件发布者失败")
		}
	}
	st.close(shutdownCtx)
	log.Info("服务已停止")
}

// syncRuntimeConfig 先加载集群中已有的提供方和阈值，再监听后续变更。
// 本节点之后的修改也通过 etcd 同步给其他节点。
func syncRuntimeConfig(ctx context.Context, d *etcd.ServiceDiscovery, registry *runtimeconfig.ProviderRegistry, thresholds *runtimeconfig.ThresholdStore, log *logger.Logger) {
	hooks := map[string]func([]byte, int64) error{
		runtimeconfig.ActiveProviderKey: func(raw []byte, _ int64) error { return registry.ApplyActive(raw) },
		runtimeconfig.ThresholdsKey:     thresholds.Apply,
	}
	for key, apply := range hooks {
		raw, rev, found, err := d.GetRaw(ctx, key)
		if err != nil {
			log.WithField("key", key).WithError(models.NewErrorInfo(err, "DependencyUnavailable")).Warn("读取集群配置失败，使用本地配置")
		} else if found {
			if err := apply(raw, rev); err != nil {
				log.WithField("key", key).WithError(models.NewErrorInfo(err, "ValidationError")).Warn("集群配置无效，使用本地配置")
			}
		}
		d.Watch(ctx, key, apply)
	}
	registry.AttachSync(d)
	thresholds.AttachSync(d)
}

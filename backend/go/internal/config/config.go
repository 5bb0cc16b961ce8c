package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MilvusConfig 定义了 Milvus 证据索引的连接和集合配置。
type MilvusConfig struct {
	Address        string `yaml:"address"`        // Milvus 服务地址
	CollectionName string `yaml:"collectionName"` // 证据集合名称
	VectorField    string `yaml:"vectorField"`    // 向量字段名称
	IDField        string `yaml:"idField"`        // 证据 ID 字段名称
	Dim            int    `yaml:"dim"`            // 向量维度
	IndexType      string `yaml:"indexType"`      // 索引类型 (例如: "IVF_FLAT", "HNSW")
	Nprobe         int    `yaml:"nprobe"`         // IVF 搜索参数
}

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MySQLConfig 定义了证据语料库 MySQL 数据库的连接配置。
type MySQLConfig struct {
	Address         string `yaml:"address"`         // MySQL 服务器地址
	Username        string `yaml:"username"`        // 用户名
	Password        string `yaml:"password"`        // 密码
	Database        string `yaml:"database"`        // 数据库名称
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
}

// MinIOConfig 定义了截图对象存储的连接配置。
type MinIOConfig struct {
	Endpoint   string `yaml:"endpoint"`   // MinIO 服务端点
	AccessKey  string `yaml:"accessKey"`  // 访问密钥
	SecretKey  string `yaml:"secretKey"`  // Secret 密钥
	Bucket     string `yaml:"bucket"`     // 截图存储桶名称
	Secure     bool   `yaml:"secure"`     // 是否使用HTTPS
	PresignTTL string `yaml:"presignTTL"` // 预签名 URL 有效期 (例如: "15m")
}

// MongoConfig 定义了复核队列与审计日志所用 MongoDB 的连接配置。
type MongoConfig struct {
	Address          string `yaml:"address"`          // MongoDB 连接 URI
	Username         string `yaml:"username"`         // 用户名
	Password         string `yaml:"password"`         // 密码
	Database         string `yaml:"database"`         // 数据库名称
	ReviewCollection string `yaml:"reviewCollection"` // 复核队列集合
	AuditCollection  string `yaml:"auditCollection"`  // 审计日志集合
}

// EtcdConfig 定义了 Etcd 的连接配置，用于服务注册与集群配置同步。
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"` // Etcd 节点地址列表
	Username  string   `yaml:"username"`  // 用户名
	Password  string   `yaml:"password"`  // 密码
	Prefix    string   `yaml:"prefix"`    // 配置键前缀
	LeaseTTL  int64    `yaml:"leaseTTL"`  // 服务注册租约 (秒)
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`      // Kafka Broker 地址列表
	EventsTopic  string   `yaml:"eventsTopic"`  // 事件镜像主题
	CrawlerTopic string   `yaml:"crawlerTopic"` // 爬虫发现主题
	GroupID      string   `yaml:"groupID"`      // 消费组
}

// DatabaseConfigs 包含所有外部存储的配置。地址为空的存储不会被启用。
type DatabaseConfigs struct {
	Milvus  MilvusConfig `yaml:"milvus"`
	Redis   RedisConfig  `yaml:"redis"`
	MySQL   MySQLConfig  `yaml:"mysql"`
	MinIO   MinIOConfig  `yaml:"minio"`
	MongoDB MongoConfig  `yaml:"mongodb"`
	Etcd    EtcdConfig   `yaml:"etcd"`
	Kafka   KafkaConfig  `yaml:"kafka"`
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// ServerConfig 定义了 HTTP 与 gRPC 监听配置。
type ServerConfig struct {
	Address        string   `yaml:"address"`        // HTTP 监听地址
	GRPCAddress    string   `yaml:"grpcAddress"`    // gRPC 健康检查监听地址
	ReadTimeout    string   `yaml:"readTimeout"`    // 例如: "10s"
	WriteTimeout   string   `yaml:"writeTimeout"`   // 例如: "30s"
	AllowedOrigins []string `yaml:"allowedOrigins"` // CORS 允许的来源
}

// AuthConfig 用于配置 JWT 认证。
type AuthConfig struct {
	JwtSecret string `yaml:"jwtSecret"` // JWT 密钥
	Issuer    string `yaml:"issuer"`    // 签发者
	TokenTTL  int    `yaml:"tokenTTL"`  // JWT 令牌的有效期（秒）
}

// AuditConfig 定义了审计日志签名密钥。
type AuditConfig struct {
	HMACKey string `yaml:"hmacKey"` // 签名主密钥，派生后的密钥只保存在内存中
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// ProviderConfig 描述一个生成模型提供商。
type ProviderConfig struct {
	Name    string `yaml:"name"`    // 唯一名称，用于切换
	Type    string `yaml:"type"`    // "gemini", "openai", "ollama", "anthropic"
	Model   string `yaml:"model"`   // 模型名称
	APIKey  string `yaml:"apiKey"`  // API 密钥
	BaseURL string `yaml:"baseURL"` // 自定义服务地址 (可选)
}

// LLMConfig 包含了按故障转移顺序排列的提供商列表。
type LLMConfig struct {
	Active         string               `yaml:"active"`         // 初始活动提供商
	Providers      []ProviderConfig     `yaml:"providers"`      // 按配置顺序排列
	AttemptTimeout string               `yaml:"attemptTimeout"` // 单次调用超时
	LessonTimeout  string               `yaml:"lessonTimeout"`  // 迷你课程生成超时
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"` // 每个提供商的熔断器
}

// EmbeddingConfig 包含了 Embedding 提供商的配置。
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`  // "gemini", "openai", "ollama"
	Model     string `yaml:"model"`     // 模型名称
	APIKey    string `yaml:"apiKey"`    // API 密钥
	BaseURL   string `yaml:"baseURL"`   // 服务地址 (可选)
	CacheSize int    `yaml:"cacheSize"` // 进程内 LRU 容量
	CacheTTL  string `yaml:"cacheTTL"`  // 缓存有效期
}

// ClassifierConfig 定义了分类模型服务的配置。
type ClassifierConfig struct {
	Endpoint       string               `yaml:"endpoint"`       // 推理服务地址，为空表示不启用
	Timeout        string               `yaml:"timeout"`        // 单次推理超时
	ModelVersion   string               `yaml:"modelVersion"`   // 模型版本
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"` // 熔断器
}

// PipelineConfig 定义了核查流水线的参数。
type PipelineConfig struct {
	Timeout         string  `yaml:"timeout"`         // 端到端超时
	FinalizeTimeout string  `yaml:"finalizeTimeout"` // 审计与入队的收尾时限，不受请求取消影响
	TopK            int     `yaml:"topK"`            // 检索条数
	MinSimilarity   float64 `yaml:"minSimilarity"`   // 相似度下限
}

// ThresholdConfig 是单个语言的路由阈值。
type ThresholdConfig struct {
	AutoPublishMinConfidence int     `yaml:"autoPublishMinConfidence" json:"auto_publish_min_confidence"`
	ReviewMinScore           int     `yaml:"reviewMinScore" json:"review_min_score"`
	ReviewMaxScore           int     `yaml:"reviewMaxScore" json:"review_max_score"`
	AutoRejectMinSuspicion   float64 `yaml:"autoRejectMinSuspicion" json:"auto_reject_min_suspicion"`
}

// ThresholdPatch 是对单个语言阈值的部分修改，为 nil 的字段保持原值。
type ThresholdPatch struct {
	AutoPublishMinConfidence *int     `json:"auto_publish_min_confidence,omitempty"`
	ReviewMinScore           *int     `json:"review_min_score,omitempty"`
	ReviewMaxScore           *int     `json:"review_max_score,omitempty"`
	AutoRejectMinSuspicion   *float64 `json:"auto_reject_min_suspicion,omitempty"`
}

// Empty 报告 patch 是否没有任何字段。
func (p ThresholdPatch) Empty() bool {
	return p.AutoPublishMinConfidence == nil && p.ReviewMinScore == nil &&
		p.ReviewMaxScore == nil && p.AutoRejectMinSuspicion == nil
}

// Apply 把 patch 叠加到 base 上，返回合并后的阈值，不做校验。
func (p ThresholdPatch) Apply(base ThresholdConfig) ThresholdConfig {
	if p.AutoPublishMinConfidence != nil {
		base.AutoPublishMinConfidence = *p.AutoPublishMinConfidence
	}
	if p.ReviewMinScore != nil {
		base.ReviewMinScore = *p.ReviewMinScore
	}
	if p.ReviewMaxScore != nil {
		base.ReviewMaxScore = *p.ReviewMaxScore
	}
	if p.AutoRejectMinSuspicion != nil {
		base.AutoRejectMinSuspicion = *p.AutoRejectMinSuspicion
	}
	return base
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter RateLimiterConfig `yaml:"rateLimiter"`
}

// RateLimiterConfig 定义了按客户端限流的配置。
type RateLimiterConfig struct {
	Enabled     bool              `yaml:"enabled"`
	TokenBucket TokenBucketConfig `yaml:"tokenBucket"`
	MaxClients  int               `yaml:"maxClients"` // 同时跟踪的客户端数量
}

// TokenBucketConfig 定义了令牌桶算法的配置。
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo                    `yaml:"app"`
	Server     ServerConfig               `yaml:"server"`
	Auth       AuthConfig                 `yaml:"auth"`
	Audit      AuditConfig                `yaml:"audit"`
	LLM        LLMConfig                  `yaml:"llm"`
	Embedding  EmbeddingConfig            `yaml:"embedding"`
	Classifier ClassifierConfig           `yaml:"classifier"`
	Pipeline   PipelineConfig             `yaml:"pipeline"`
	Thresholds map[string]ThresholdConfig `yaml:"thresholds"`
	Logger     LoggerConfig               `yaml:"logger"`
	Databases  DatabaseConfigs            `yaml:"databases"`
	Middleware MiddlewareConfig           `yaml:"middleware"`
}

// DefaultThresholds 返回各语言的默认阈值。
func DefaultThresholds() map[string]ThresholdConfig {
	indic := ThresholdConfig{AutoPublishMinConfidence: 90, ReviewMinScore: 50, ReviewMaxScore: 89, AutoRejectMinSuspicion: 0.8}
	return map[string]ThresholdConfig{
		"en": {AutoPublishMinConfidence: 92, ReviewMinScore: 50, ReviewMaxScore: 91, AutoRejectMinSuspicion: 0.8},
		"hi": indic,
		"ta": indic,
		"kn": indic,
	}
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析、覆盖并校验后的应用程序配置。
//	error: 如果文件读取、解析或校验失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	cfg, err := Parse(yamlFile)
	if err != nil {
		return nil, err
	}

	// .env 只补充尚未设置的环境变量。
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 文件 '%s' 失败: %w", envFile, err)
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 将 YAML 内容解析为 AppConfig，不做覆盖与校验。
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv 用环境变量覆盖密钥类配置。
func (c *AppConfig) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Auth.JwtSecret, "FACTFORGE_JWT_SECRET")
	set(&c.Audit.HMACKey, "FACTFORGE_AUDIT_HMAC_KEY")
	set(&c.Databases.MongoDB.Address, "FACTFORGE_MONGO_URI")
	set(&c.Databases.Redis.Address, "FACTFORGE_REDIS_ADDR")
	set(&c.Logger.Level, "FACTFORGE_LOG_LEVEL")
	for i := range c.LLM.Providers {
		p := &c.LLM.Providers[i]
		switch p.Type {
		case "gemini":
			set(&p.APIKey, "GEMINI_API_KEY")
		case "openai":
			set(&p.APIKey, "OPENAI_API_KEY")
		case "anthropic":
			set(&p.APIKey, "ANTHROPIC_API_KEY")
		}
	}
	switch c.Embedding.Provider {
	case "gemini":
		set(&c.Embedding.APIKey, "GEMINI_API_KEY")
	case "openai":
		set(&c.Embedding.APIKey, "OPENAI_API_KEY")
	}
}

// ApplyDefaults 为未配置的字段填充默认值。
func (c *AppConfig) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "factforge"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "factforge"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 1800
	}
	if c.LLM.AttemptTimeout == "" {
		c.LLM.AttemptTimeout = "8s"
	}
	if c.LLM.LessonTimeout == "" {
		c.LLM.LessonTimeout = "5s"
	}
	if c.LLM.Active == "" && len(c.LLM.Providers) > 0 {
		c.LLM.Active = c.LLM.Providers[0].Name
	}
	defaultBreaker(&c.LLM.CircuitBreaker, 3, "30s")
	defaultBreaker(&c.Classifier.CircuitBreaker, 5, "15s")
	if c.Classifier.Timeout == "" {
		c.Classifier.Timeout = "300ms"
	}
	if c.Embedding.CacheSize == 0 {
		c.Embedding.CacheSize = 1024
	}
	if c.Embedding.CacheTTL == "" {
		c.Embedding.CacheTTL = "24h"
	}
	if c.Pipeline.Timeout == "" {
		c.Pipeline.Timeout = "20s"
	}
	if c.Pipeline.FinalizeTimeout == "" {
		c.Pipeline.FinalizeTimeout = "5s"
	}
	if c.Pipeline.TopK == 0 {
		c.Pipeline.TopK = 6
	}
	if c.Pipeline.MinSimilarity == 0 {
		c.Pipeline.MinSimilarity = 0.55
	}
	if len(c.Thresholds) == 0 {
		c.Thresholds = DefaultThresholds()
	}
	if c.Middleware.RateLimiter.TokenBucket.Rate == 0 {
		c.Middleware.RateLimiter.TokenBucket.Rate = 2
	}
	if c.Middleware.RateLimiter.TokenBucket.Capacity == 0 {
		c.Middleware.RateLimiter.TokenBucket.Capacity = 10
	}
	if c.Middleware.RateLimiter.MaxClients == 0 {
		c.Middleware.RateLimiter.MaxClients = 10000
	}
	m := &c.Databases.Milvus
	if m.CollectionName == "" {
		m.CollectionName = "evidence"
	}
	if m.VectorField == "" {
		m.VectorField = "embedding"
	}
	if m.IDField == "" {
		m.IDField = "evidence_id"
	}
	if m.Nprobe == 0 {
		m.Nprobe = 10
	}
	mg := &c.Databases.MongoDB
	if mg.Database == "" {
		mg.Database = "factforge"
	}
	if mg.ReviewCollection == "" {
		mg.ReviewCollection = "review_queue"
	}
	if mg.AuditCollection == "" {
		mg.AuditCollection = "audit_logs"
	}
	if c.Databases.MinIO.PresignTTL == "" {
		c.Databases.MinIO.PresignTTL = "15m"
	}
	k := &c.Databases.Kafka
	if k.EventsTopic == "" {
		k.EventsTopic = "factforge.events"
	}
	if k.CrawlerTopic == "" {
		k.CrawlerTopic = "factforge.crawler"
	}
	if k.GroupID == "" {
		k.GroupID = "factforge-check-service"
	}
	if c.Databases.Etcd.Prefix == "" {
		c.Databases.Etcd.Prefix = "/factforge"
	}
	if c.Databases.Etcd.LeaseTTL == 0 {
		c.Databases.Etcd.LeaseTTL = 10
	}
}

func defaultBreaker(cb *CircuitBreakerConfig, failures uint32, timeout string) {
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = failures
	}
	if cb.SuccessThreshold == 0 {
		cb.SuccessThreshold = 1
	}
	if cb.Timeout == "" {
		cb.Timeout = timeout
	}
}

// Validate 校验配置的完整性。
func (c *AppConfig) Validate() error {
	if c.Auth.JwtSecret == "" {
		return errors.New("配置错误: 未设置 auth.jwtSecret")
	}
	if len(c.Audit.HMACKey) < 16 {
		return errors.New("配置错误: audit.hmacKey 至少需要 16 个字符")
	}
	if len(c.LLM.Providers) == 0 {
		return errors.New("配置错误: 未配置任何 LLM 提供商")
	}
	seen := make(map[string]bool, len(c.LLM.Providers))
	for _, p := range c.LLM.Providers {
		if p.Name == "" || p.Type == "" {
			return fmt.Errorf("配置错误: 提供商缺少 name 或 type: %+v", p)
		}
		if seen[p.Name] {
			return fmt.Errorf("配置错误: 重复的提供商名称 '%s'", p.Name)
		}
		seen[p.Name] = true
	}
	if !seen[c.LLM.Active] {
		return fmt.Errorf("配置错误: 活动提供商 '%s' 不在提供商列表中", c.LLM.Active)
	}
	for lang, t := range c.Thresholds {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("配置错误: 语言 '%s' 的阈值无效: %w", lang, err)
		}
	}
	for _, d := range []string{c.Server.ReadTimeout, c.Server.WriteTimeout, c.LLM.AttemptTimeout,
		c.LLM.LessonTimeout, c.Classifier.Timeout, c.Pipeline.Timeout, c.Pipeline.FinalizeTimeout, c.Embedding.CacheTTL} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("配置错误: 无效的时长 '%s': %w", d, err)
		}
	}
	return nil
}

// Validate 校验单个语言的阈值。
func (t ThresholdConfig) Validate() error {
	in := func(v int) bool { return v >= 0 && v <= 100 }
	if !in(t.AutoPublishMinConfidence) || !in(t.ReviewMinScore) || !in(t.ReviewMaxScore) {
		return errors.New("置信度阈值必须在 [0,100] 之内")
	}
	if t.ReviewMinScore > t.ReviewMaxScore {
		return errors.New("reviewMinScore 不能大于 reviewMaxScore")
	}
	// 为 0 时任何分类结果都会触发诈骗覆盖
	if t.AutoRejectMinSuspicion <= 0 || t.AutoRejectMinSuspicion > 1 {
		return errors.New("autoRejectMinSuspicion 必须在 (0,1] 之内")
	}
	return nil
}

// Duration 解析时长字符串，失败时返回 fallback。
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

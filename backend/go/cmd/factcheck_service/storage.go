package main

import (
	"context"
	"time"

	"factforge/backend/go/internal/audit"
	"factforge/backend/go/internal/config"
	dbkafka "factforge/backend/go/internal/database/kafka"
	dbmilvus "factforge/backend/go/internal/database/milvus"
	dbminio "factforge/backend/go/internal/database/minio"
	dbmongo "factforge/backend/go/internal/database/mongo"
	dbmysql "factforge/backend/go/internal/database/mysql"
	dbredis "factforge/backend/go/internal/database/redis"
	"factforge/backend/go/internal/embedding"
	"factforge/backend/go/internal/models"
	"factforge/backend/go/internal/retriever"
	"factforge/backend/go/internal/review"
	"factforge/backend/go/pkg/logger"
)

type vectorStore interface {
	retriever.VectorIndex
	retriever.VectorWriter
}

type evidenceStore interface {
	retriever.EvidenceStore
	retriever.EvidenceWriter
}

// storage 汇总外部存储。地址为空的存储退回进程内实现，只适合本地开发。
type storage struct {
	reviews     review.Store
	audit       audit.Store
	index       vectorStore
	evidence    evidenceStore
	embedCache  embedding.RemoteCache
	screenshots *dbminio.ScreenshotSigner

	probes  map[string]func(ctx context.Context) error
	closers []func(ctx context.Context)
}

func fatal(log *logger.Logger, err error, msg string) {
	log.WithError(models.NewErrorInfo(err, "StartupError")).Fatal(msg)
}

// openStorage 依次连接 MongoDB、MySQL、Milvus、Redis、MinIO 和 Kafka，任一已配置的存储连接失败即退出。
func openStorage(ctx context.Context, cfg *config.AppConfig, log *logger.Logger) *storage {
	st := &storage{probes: map[string]func(ctx context.Context) error{}}
	dbs := cfg.Databases

	if dbs.MongoDB.Address != "" {
		client, err := dbmongo.GetClient(ctx, &dbs.MongoDB)
		if err != nil {
			fatal(log, err, "连接 MongoDB 失败")
		}
		db := client.Database(dbs.MongoDB.Database)
		if err := dbmongo.EnsureIndexes(ctx, db, &dbs.MongoDB); err != nil {
			fatal(log, err, "创建 MongoDB 索引失败")
		}
		st.reviews = review.NewMongoStore(db.Collection(dbs.MongoDB.ReviewCollection))
		st.audit = audit.NewMongoStore(db.Collection(dbs.MongoDB.AuditCollection))
		st.probes["mongo"] = dbmongo.HealthCheck
		st.closers = append(st.closers, func(ctx context.Context) { _ = dbmongo.Close(ctx) })
		log.Info("已连接 MongoDB")
	} else {
		st.reviews = review.NewMemoryStore()
		st.audit = audit.NewMemoryStore()
		log.Warn("未配置 MongoDB，复核队列和审计日志使用内存存储")
	}

	if dbs.MySQL.Address != "" {
		db, err := dbmysql.GetDB(&dbs.MySQL, &retriever.EvidenceRecord{})
		if err != nil {
			fatal(log, err, "连接 MySQL 失败")
		}
		st.evidence = retriever.NewGormEvidenceStore(db)
		st.probes["mysql"] = dbmysql.HealthCheck
		st.closers = append(st.closers, func(context.Context) { _ = dbmysql.Close() })
		log.Info("已连接 MySQL")
	} else {
		st.evidence = retriever.NewMemoryEvidenceStore()
		log.Warn("未配置 MySQL，证据元数据使用内存存储")
	}

	if dbs.Milvus.Address != "" {
		mc, err := dbmilvus.GetClient(ctx, &dbs.Milvus)
		if err != nil {
			fatal(log, err, "连接 Milvus 失败")
		}
		if err := mc.EnsureCollection(ctx); err != nil {
			fatal(log, err, "准备 Milvus 集合失败")
		}
		st.index = retriever.NewMilvusIndex(mc)
		st.probes["milvus"] = mc.HealthCheck
		st.closers = append(st.closers, func(context.Context) { _ = mc.Close() })
		log.Info("已连接 Milvus")
	} else {
		st.index = retriever.NewMemoryIndex()
		log.Warn("未配置 Milvus，证据向量使用内存索引")
	}

	if dbs.Redis.Address != "" {
		rc, err := dbredis.GetClient(ctx, &dbs.Redis)
		if err != nil {
			fatal(log, err, "连接 Redis 失败")
		}
		st.embedCache = embedding.NewRedisCache(rc, cfg.App.Name+":embedding:")
		st.probes["redis"] = dbredis.HealthCheck
		st.closers = append(st.closers, func(context.Context) { _ = dbredis.Close() })
		log.Info("已连接 Redis")
	}

	if dbs.MinIO.Endpoint != "" {
		mc, err := dbminio.GetClient(ctx, &dbs.MinIO)
		if err != nil {
			fatal(log, err, "连接 MinIO 失败")
		}
		st.screenshots = dbminio.NewScreenshotSigner(mc, &dbs.MinIO)
		st.probes["minio"] = dbminio.HealthCheck
		log.Info("已连接 MinIO")
	}

	if len(dbs.Kafka.Brokers) > 0 {
		tctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := dbkafka.EnsureTopics(tctx, &dbs.Kafka)
		cancel()
		if err != nil {
			log.WithError(models.NewErrorInfo(err, "DependencyUnavailable")).Warn("创建 Kafka 主题失败，继续启动")
		}
		brokers := dbs.Kafka.Brokers
		st.probes["kafka"] = func(ctx context.Context) error { return dbkafka.HealthCheck(ctx, brokers) }
	}
	return st
}

// close 按打开顺序的逆序关闭存储。
func (st *storage) close(ctx context.Context) {
	for i := len(st.closers) - 1; i >= 0; i-- {
		st.closers[i](ctx)
	}
}

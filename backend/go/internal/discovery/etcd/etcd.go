// Package etcd 负责服务注册，以及通过 etcd 在集群内同步运行时配置。
package etcd

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/config"
	"factforge/backend/go/internal/models"
	"factforge/backend/go/pkg/logger"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// ServiceDiscovery 封装 etcd 客户端。
type ServiceDiscovery struct {
	cli    *clientv3.Client
	prefix string
	log    *logger.Logger
}

// NewServiceDiscovery creates a new ServiceDiscovery.
func NewServiceDiscovery(cfg config.EtcdConfig, log *logger.Logger) (*ServiceDiscovery, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ServiceDiscovery{cli: cli, prefix: cfg.Prefix, log: log}, nil
}

func (s *ServiceDiscovery) key(parts ...string) string {
	return path.Join(append([]string{"/", s.prefix}, parts...)...)
}

// Register 以租约方式注册服务实例，ctx 取消时注销。
func (s *ServiceDiscovery) Register(ctx context.Context, serviceName, addr string, ttl int64) error {
	leaseResp, err := s.cli.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	k := s.key("services", serviceName, addr)
	if _, err = s.cli.Put(ctx, k, addr, clientv3.WithLease(leaseResp.ID)); err != nil {
		return err
	}

	keepAliveCh, err := s.cli.KeepAlive(ctx, leaseResp.ID)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.revoke(k, leaseResp.ID)
				return
			case _, ok := <-keepAliveCh:
				if !ok {
					// Lease expired or was revoked.
					s.log.WithField("key", k).Warn("etcd 租约已失效")
					return
				}
			}
		}
	}()
	return nil
}

func (s *ServiceDiscovery) revoke(key string, lease clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = s.cli.Revoke(ctx, lease)
	_, _ = s.cli.Delete(ctx, key)
}

// Discover 返回服务的全部已注册地址。
func (s *ServiceDiscovery) Discover(ctx context.Context, serviceName string) ([]string, error) {
	resp, err := s.cli.Get(ctx, s.key("services", serviceName)+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	var addrs []string
	for _, ev := range resp.Kvs {
		addrs = append(addrs, string(ev.Value))
	}
	return addrs, nil
}

// PutJSON 把 v 编码为 JSON 写入配置键 name。
func (s *ServiceDiscovery) PutJSON(ctx context.Context, name string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.cli.Put(ctx, s.key("config", name), string(b))
	return err
}

// CompareAndPutJSON 仅当配置键 name 的 ModRevision 仍为 rev 时写入 v，键不存在时 rev 为 0。
// 成功时返回写入后的修订号，修订号已变化时返回 Conflict 错误。
func (s *ServiceDiscovery) CompareAndPutJSON(ctx context.Context, name string, v interface{}, rev int64) (int64, error) {
	const op = "etcd.CompareAndPutJSON"
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	k := s.key("config", name)
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(k), "=", rev)).
		Then(clientv3.OpPut(k, string(b))).
		Commit()
	if err != nil {
		return 0, err
	}
	if !resp.Succeeded {
		return 0, apperr.New(apperr.KindConflict, op, "配置 %s 已被其他实例修改", name)
	}
	return resp.Header.Revision, nil
}

// GetRaw 读取配置键 name 的原始值和 ModRevision，键不存在时 found 为 false。
func (s *ServiceDiscovery) GetRaw(ctx context.Context, name string) (value []byte, rev int64, found bool, err error) {
	resp, err := s.cli.Get(ctx, s.key("config", name))
	if err != nil {
		return nil, 0, false, err
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, false, nil
	}
	return resp.Kvs[0].Value, resp.Kvs[0].ModRevision, true, nil
}

// Watch 监听配置键 name，每次写入时以原始值和 ModRevision 调用 fn，直到 ctx 取消。
// fn 返回的错误只记录日志。
func (s *ServiceDiscovery) Watch(ctx context.Context, name string, fn func(value []byte, rev int64) error) {
	k := s.key("config", name)
	wch := s.cli.Watch(ctx, k)
	go func() {
		for resp := range wch {
			if err := resp.Err(); err != nil {
				s.log.WithField("key", k).WithError(models.NewErrorInfo(err, "DependencyUnavailable")).Warn("etcd watch 出错")
				continue
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				if err := fn(ev.Kv.Value, ev.Kv.ModRevision); err != nil {
					s.log.WithField("key", k).WithError(models.NewErrorInfo(err, "ValidationError")).Warn("应用 etcd 配置失败")
				}
			}
		}
	}()
}

// HealthCheck 检查 etcd 是否可达。
func (s *ServiceDiscovery) HealthCheck(ctx context.Context) error {
	_, err := s.cli.Get(ctx, s.key("health"))
	return err
}

// Close closes the etcd client.
func (s *ServiceDiscovery) Close() error {
	return s.cli.Close()
}

// Package events 把核查与复核过程中的类型化事件推送给监听者。
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"factforge/backend/go/internal/models"

	"github.com/google/uuid"
)

// Publisher 发布事件。实现必须可并发调用。
type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
}

// New 创建一个带新 ID 和当前时间的事件。
func New(eventType string, data map[string]interface{}) models.Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	return models.Event{Type: eventType, ID: uuid.NewString(), Timestamp: time.Now().UTC(), Data: data}
}

// Audience 返回能收到该事件的最低角色。
// review:* 只发给复核员和管理员，admin:* 只发给管理员，其他事件发给所有人。
func Audience(eventType string) models.Role {
	switch {
	case strings.HasPrefix(eventType, "review:"):
		return models.RoleReviewer
	case strings.HasPrefix(eventType, "admin:"):
		return models.RoleAdmin
	}
	return models.RoleAnonymous
}

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 什么也不做。
func (Nop) Publish(context.Context, models.Event) error { return nil }

// Fanout 依次发布到多个 Publisher，全部尝试后返回第一个错误。
type Fanout []Publisher

// Publish 发布到全部下游。
func (f Fanout) Publish(ctx context.Context, e models.Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder 记录收到的事件，用于测试。
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

// Publish 记录事件。
func (r *Recorder) Publish(_ context.Context, e models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Types 按到达顺序返回事件类型。
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Events 返回事件副本。
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

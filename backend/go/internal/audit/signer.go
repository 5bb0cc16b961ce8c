// Package audit 实现只追加、带签名的审计日志。
//
// 签名为 hex(HMAC-SHA256(key, event_type "\n" created_at "\n" payload))，
// created_at 使用 RFC3339Nano 的 UTC 表示，key 由配置中的主密钥经 HKDF-SHA256 派生。
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "factforge/audit-log/v1"

// Signer 持有派生后的签名密钥，主密钥不被保留。
type Signer struct {
	key []byte
}

// NewSigner 从主密钥派生签名密钥。
func NewSigner(secret string) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("审计主密钥至少需要 16 个字符")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

func (s *Signer) mac(eventType string, createdAt time.Time, payload []byte) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(eventType))
	m.Write([]byte{'\n'})
	m.Write([]byte(createdAt.UTC().Format(time.RFC3339Nano)))
	m.Write([]byte{'\n'})
	m.Write(payload)
	return m.Sum(nil)
}

// Sign 返回签名的十六进制表示。
func (s *Signer) Sign(eventType string, createdAt time.Time, payload []byte) string {
	return hex.EncodeToString(s.mac(eventType, createdAt, payload))
}

// Valid 以常量时间比较签名。
func (s *Signer) Valid(eventType string, createdAt time.Time, payload []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.mac(eventType, createdAt, payload))
}

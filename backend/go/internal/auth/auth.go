// Package auth 签发和校验 JWT，并把身份放入 gin 上下文。
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// gin 上下文中的键。
const (
	ContextUserID   = "userID"
	ContextIdentity = "identity"
)

// Claims 是令牌载荷。sub 是用户 ID。
type Claims struct {
	jwt.StandardClaims
	Role models.Role `json:"role"`
}

// Authenticator 使用 HS256 签发和校验令牌。
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator 创建 Authenticator。
func NewAuthenticator(secret, issuer string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt 密钥不能为空")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue 为用户签发令牌。
func (a *Authenticator) Issue(userID string, role models.Role) (string, error) {
	if userID == "" {
		return "", apperr.Validation("auth.Issue", "user id 不能为空")
	}
	if !role.Valid() {
		return "", apperr.Validation("auth.Issue", "未知的角色 %q", role)
	}
	now := a.now()
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(a.ttl).Unix(),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse 校验令牌并返回身份。任何问题都返回 Unauthorized。
func (a *Authenticator) Parse(token string) (models.Identity, error) {
	const op = "auth.Parse"
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		// 确保 token 的签名方法是我们期望的
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("非预期的签名方法")
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return models.Identity{}, apperr.New(apperr.KindUnauthorized, op, "无效的 token")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return models.Identity{}, apperr.New(apperr.KindUnauthorized, op, "token 签发者不匹配")
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return models.Identity{}, apperr.New(apperr.KindUnauthorized, op, "无效的 token claims")
	}
	return models.Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

// tokenFrom 从 Authorization 标头或 ?token= 查询参数取出令牌。
func tokenFrom(c *gin.Context) (string, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", errors.New("授权标头格式不正确")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	return c.Query("token"), nil
}

func abort(c *gin.Context, status int, kind apperr.Kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": string(kind), "message": msg})
}

// Optional 在带有令牌时校验并记录身份，没有令牌的请求按匿名继续。
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := tokenFrom(c)
		if err != nil {
			abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, err.Error())
			return
		}
		if token == "" {
			c.Set(ContextIdentity, models.Identity{})
			c.Next()
			return
		}
		id, err := a.Parse(token)
		if err != nil {
			abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, apperr.Message(err))
			return
		}
		c.Set(ContextIdentity, id)
		c.Set(ContextUserID, id.UserID)
		c.Next()
	}
}

// Require 要求调用方至少拥有 min 角色，必须放在 Optional 之后。
func Require(min models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := Identity(c)
		if id.Anonymous() {
			abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, "需要登录")
			return
		}
		if !id.Role.AtLeast(min) {
			abort(c, http.StatusForbidden, apperr.KindForbidden, "需要 "+string(min)+" 权限")
			return
		}
		c.Next()
	}
}

// Identity 返回 Optional 放入上下文的身份，没有时为匿名。
func Identity(c *gin.Context) models.Identity {
	if v, ok := c.Get(ContextIdentity); ok {
		if id, ok := v.(models.Identity); ok {
			return id
		}
	}
	return models.Identity{}
}

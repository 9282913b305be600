package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/newsfeed/pkg/response"
)

const userIDKey = "user_id"

var errBadSubject = errors.New("token subject is not a user id")

// IssueToken 签发 HS256 token，sub 为用户 ID（登录服务与测试使用）
func IssueToken(secret string, userID uint64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken 校验签名与过期时间，返回用户 ID
func ParseToken(secret, token string) (uint64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, errBadSubject
	}
	return id, nil
}

// Auth 要求 Authorization: Bearer <token>
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			response.Unauthorized(c, "missing bearer token")
			return
		}
		id, err := ParseToken(secret, token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

// UserID 当前请求的用户，未鉴权时为 0
func UserID(c *gin.Context) uint64 {
	return c.GetUint64(userIDKey)
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/d60-Lab/newsfeed/docs"
	"github.com/d60-Lab/newsfeed/internal/api/handler"
	"github.com/d60-Lab/newsfeed/internal/api/middleware"
)

type Options struct {
	ServiceName string
	JWTSecret   string
	// ReadLimiter 限制 feed / 时间线读取，WriteLimiter 限制发布、点赞、评论、关注
	ReadLimiter  *middleware.Limiter
	WriteLimiter *middleware.Limiter
	DB           *gorm.DB
	Redis        *redis.Client
}

// NewRouter 组装中间件与路由
func NewRouter(h *handler.Handler, opts Options) (*gin.Engine, error) {
	if err := middleware.RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog())
	if opts.ServiceName != "" {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", healthz(opts.DB, opts.Redis))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	auth := middleware.Auth(opts.JWTSecret)
	read := middleware.RateLimit(opts.ReadLimiter)
	write := middleware.RateLimit(opts.WriteLimiter)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/feed", auth, read, h.GetFeed)
		v1.GET("/users/:user_id/items", read, h.GetTimeline)

		v1.POST("/items", auth, write, h.Publish)
		v1.GET("/items/:item_id", h.GetItem)
		v1.GET("/items/:item_id/comments", read, h.ListComments)
		v1.POST("/items/:item_id/comments", auth, write, h.CreateComment)

		v1.POST("/likes", auth, write, h.Like)
		v1.DELETE("/likes", auth, write, h.Unlike)
		v1.GET("/counters/:kind/:id/:attribute", h.GetCounter)

		rel := v1.Group("/relations")
		rel.POST("/follow", auth, write, h.Follow)
		rel.POST("/unfollow", auth, write, h.Unfollow)
		rel.GET("/:user_id/following", h.ListFollowing)
		rel.GET("/:user_id/fans", h.ListFans)

		v1.GET("/fanouts/:item_id", h.GetFanout)
		v1.POST("/fanouts/:item_id/redispatch", auth, h.Refanout)
	}
	return r, nil
}

// healthz 数据库不可用返回 503；缓存不可用只标记降级
func healthz(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		status := gin.H{"database": "ok", "cache": "ok"}
		code := http.StatusOK
		if db != nil {
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
				status["database"] = "down"
				code = http.StatusServiceUnavailable
			}
		}
		if rdb != nil && rdb.Ping(ctx).Err() != nil {
			status["cache"] = "degraded"
		}
		c.JSON(code, status)
	}
}

package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/newsfeed/internal/api/middleware"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/service"
	"github.com/d60-Lab/newsfeed/pkg/response"
)

// Handler 聚合各服务，路由层只做参数绑定和错误映射
type Handler struct {
	publisher  *service.Publisher
	feed       *service.FeedService
	engagement *service.EngagementService
	relService service.RelationshipService
	fanout     *service.FanoutService
}

func New(
	publisher *service.Publisher,
	feed *service.FeedService,
	engagement *service.EngagementService,
	relService service.RelationshipService,
	fanout *service.FanoutService,
) *Handler {
	return &Handler{
		publisher:  publisher,
		feed:       feed,
		engagement: engagement,
		relService: relService,
		fanout:     fanout,
	}
}

// fail 把领域错误映射为 4xx，其余按 500 处理
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, pagination.ErrInvalidCursor),
		errors.Is(err, pagination.ErrInvalidPageSize),
		errors.Is(err, service.ErrFollowSelf),
		errors.Is(err, service.ErrInvalidContent),
		errors.Is(err, model.ErrUnknownEntityKind),
		errors.Is(err, model.ErrUnknownAttribute),
		errors.Is(err, model.ErrNotLikeable):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

func paramID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// pageQuery 解析 after / before / page_size
func pageQuery(c *gin.Context) (pagination.Bounds, int, error) {
	var b pagination.Bounds
	var err error
	if b.After, err = pagination.ParseBound(c.Query("after")); err != nil {
		return b, 0, err
	}
	if b.Before, err = pagination.ParseBound(c.Query("before")); err != nil {
		return b, 0, err
	}
	size := 0
	if s := c.Query("page_size"); s != "" {
		if size, err = strconv.Atoi(s); err != nil {
			return b, 0, pagination.ErrInvalidPageSize
		}
	}
	return b, size, nil
}

func caller(c *gin.Context) uint64 { return middleware.UserID(c) }

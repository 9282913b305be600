package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/pkg/response"
)

// GetFeed 当前用户的 feed
// @Summary 获取 feed 分页
// @Tags Feed
// @Produce json
// @Security BearerAuth
// @Param after query int false "只返回更新的条目（游标，微秒）"
// @Param before query int false "只返回更早的条目（游标，微秒）"
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=service.FeedPage}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 429 {object} response.Response
// @Router /api/v1/feed [get]
func (h *Handler) GetFeed(c *gin.Context) {
	b, size, err := pageQuery(c)
	if err != nil {
		fail(c, err)
		return
	}
	page, err := h.feed.GetFeedPage(c.Request.Context(), pagination.Request{OwnerID: caller(c), Bounds: b, PageSize: size})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, page)
}

// GetTimeline 某作者发布的内容
// @Summary 获取作者时间线分页
// @Tags Feed
// @Produce json
// @Param user_id path int true "作者ID"
// @Param after query int false "只返回更新的条目（游标，微秒）"
// @Param before query int false "只返回更早的条目（游标，微秒）"
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=service.FeedPage}
// @Failure 400 {object} response.Response
// @Router /api/v1/users/{user_id}/items [get]
func (h *Handler) GetTimeline(c *gin.Context) {
	userID, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	b, size, err := pageQuery(c)
	if err != nil {
		fail(c, err)
		return
	}
	page, err := h.feed.GetTimelinePage(c.Request.Context(), pagination.Request{OwnerID: userID, Bounds: b, PageSize: size})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, page)
}

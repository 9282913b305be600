package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/newsfeed/pkg/response"
)

type publishRequest struct {
	Content string `json:"content" binding:"required,max=1200"`
}

type commentRequest struct {
	Content string `json:"content" binding:"required"`
}

// Publish 发布内容，粉丝侧异步扇出
// @Summary 发布内容
// @Tags 内容
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body publishRequest true "内容"
// @Success 201 {object} response.Response{data=model.Item}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /api/v1/items [post]
func (h *Handler) Publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	item, err := h.publisher.Publish(c.Request.Context(), caller(c), req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, item)
}

// GetItem 内容详情（含实时计数）
// @Summary 获取内容
// @Tags 内容
// @Produce json
// @Param item_id path int true "内容ID"
// @Success 200 {object} response.Response{data=model.Item}
// @Failure 404 {object} response.Response
// @Router /api/v1/items/{item_id} [get]
func (h *Handler) GetItem(c *gin.Context) {
	id, ok := paramID(c, "item_id")
	if !ok {
		return
	}
	item, err := h.feed.GetItem(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, item)
}

// CreateComment 评论
// @Summary 发表评论
// @Tags 内容
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param item_id path int true "内容ID"
// @Param request body commentRequest true "评论"
// @Success 201 {object} response.Response{data=model.Comment}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/items/{item_id}/comments [post]
func (h *Handler) CreateComment(c *gin.Context) {
	id, ok := paramID(c, "item_id")
	if !ok {
		return
	}
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	comment, err := h.engagement.Comment(c.Request.Context(), caller(c), id, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, comment)
}

// ListComments 评论列表（新到旧）
// @Summary 评论分页
// @Tags 内容
// @Produce json
// @Param item_id path int true "内容ID"
// @Param after query int false "游标下界"
// @Param before query int false "游标上界"
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response
// @Router /api/v1/items/{item_id}/comments [get]
func (h *Handler) ListComments(c *gin.Context) {
	id, ok := paramID(c, "item_id")
	if !ok {
		return
	}
	b, size, err := pageQuery(c)
	if err != nil {
		fail(c, err)
		return
	}
	page, err := h.feed.ListComments(c.Request.Context(), id, b, size)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, page)
}

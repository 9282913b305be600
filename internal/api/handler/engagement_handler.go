package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/pkg/response"
)

type likeRequest struct {
	Kind     string `json:"kind" binding:"required,entitykind"`
	ObjectID uint64 `json:"object_id" binding:"required"`
}

type counterResponse struct {
	Kind      model.EntityKind `json:"kind"`
	ID        uint64           `json:"id"`
	Attribute string           `json:"attribute"`
	Value     int64            `json:"value"`
}

// Like 点赞（重复点赞幂等）
// @Summary 点赞
// @Tags 互动
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body likeRequest true "点赞目标"
// @Success 200 {object} response.Response{data=counterResponse}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/likes [post]
func (h *Handler) Like(c *gin.Context) {
	h.toggleLike(c, true)
}

// Unlike 取消点赞
// @Summary 取消点赞
// @Tags 互动
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body likeRequest true "点赞目标"
// @Success 200 {object} response.Response{data=counterResponse}
// @Failure 400 {object} response.Response
// @Router /api/v1/likes [delete]
func (h *Handler) Unlike(c *gin.Context) {
	h.toggleLike(c, false)
}

func (h *Handler) toggleLike(c *gin.Context, like bool) {
	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	kind := model.EntityKind(req.Kind)
	op := h.engagement.Unlike
	if like {
		op = h.engagement.Like
	}
	n, err := op(c.Request.Context(), caller(c), kind, req.ObjectID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, counterResponse{Kind: kind, ID: req.ObjectID, Attribute: model.AttrLikesCount, Value: n})
}

// GetCounter 读取计数
// @Summary 读取计数缓存
// @Tags 互动
// @Produce json
// @Param kind path string true "实体类型" Enums(item, comment, user)
// @Param id path int true "实体ID"
// @Param attribute path string true "计数字段"
// @Success 200 {object} response.Response{data=counterResponse}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/counters/{kind}/{id}/{attribute} [get]
func (h *Handler) GetCounter(c *gin.Context) {
	kind, err := model.ParseEntityKind(c.Param("kind"))
	if err != nil {
		fail(c, err)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	attr := c.Param("attribute")
	n, err := h.engagement.GetCounter(c.Request.Context(), kind, id, attr)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, counterResponse{Kind: kind, ID: id, Attribute: attr, Value: n})
}

package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/newsfeed/pkg/response"
)

// GetFanout 扇出进度
// @Summary 查询扇出状态
// @Tags 扇出
// @Produce json
// @Param item_id path int true "内容ID"
// @Success 200 {object} response.Response{data=model.Fanout}
// @Failure 404 {object} response.Response
// @Router /api/v1/fanouts/{item_id} [get]
func (h *Handler) GetFanout(c *gin.Context) {
	id, ok := paramID(c, "item_id")
	if !ok {
		return
	}
	f, err := h.fanout.Status(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, f)
}

// Refanout 重新扇出（幂等，用于 partial 恢复）
// @Summary 重新投递扇出
// @Tags 扇出
// @Produce json
// @Security BearerAuth
// @Param item_id path int true "内容ID"
// @Success 202 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/fanouts/{item_id}/redispatch [post]
func (h *Handler) Refanout(c *gin.Context) {
	id, ok := paramID(c, "item_id")
	if !ok {
		return
	}
	if err := h.fanout.RedispatchItem(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	response.Accepted(c, nil)
}

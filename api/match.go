package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kilianp07/organlink/core/orchestrator"
)

func (h *handlers) initiateMatch(c *gin.Context) {
	id := c.Param("recipientId")
	if err := h.d.Matching.InitiateMatch(c.Request.Context(), id); err != nil {
		Fail(c, err)
		return
	}
	Accepted(c, "match request accepted", gin.H{"recipientId": id})
}

func (h *handlers) confirmMatch(c *gin.Context) {
	var req orchestrator.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err)
		return
	}
	order, err := h.d.Matching.ConfirmMatch(c.Request.Context(), req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, "order created", order)
}

package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/core/tracking"
)

type selectDriverRequest struct {
	DeliveryID     string `json:"deliveryId"`
	OriginHospital string `json:"originHospital"`
}

func (h *handlers) createDelivery(c *gin.Context) {
	var order model.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		BadRequest(c, err)
		return
	}
	d, err := h.d.Dispatch.CreateDelivery(c.Request.Context(), order)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, "delivery created", d)
}

func (h *handlers) selectDriver(c *gin.Context) {
	var req selectDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err)
		return
	}
	drv, err := h.d.Dispatch.SelectDriver(c.Request.Context(), req.DeliveryID, req.OriginHospital)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, "driver assigned", drv)
}

func (h *handlers) trackDelivery(c *gin.Context) {
	var req tracking.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err)
		return
	}
	res, err := h.d.Tracking.Track(c.Request.Context(), req)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, "position recorded", res)
}

func (h *handlers) endDelivery(c *gin.Context) {
	var req tracking.EndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err)
		return
	}
	d, err := h.d.Tracking.EndDelivery(c.Request.Context(), req)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, "delivery completed", d)
}

func (h *handlers) getDelivery(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		Fail(c, errs.Validation("get delivery", "id is required"))
		return
	}
	d, err := h.d.Deliveries.GetDelivery(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, "ok", d)
}

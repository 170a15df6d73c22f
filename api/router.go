// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/core/orchestrator"
	"github.com/kilianp07/organlink/core/store"
	"github.com/kilianp07/organlink/core/tracking"
	"github.com/kilianp07/organlink/infra/activitylog"
	"github.com/kilianp07/organlink/infra/logger"
)

// Matching starts and confirms matches.
type Matching interface {
	InitiateMatch(ctx context.Context, recipientID string) error
	ConfirmMatch(ctx context.Context, req orchestrator.ConfirmRequest) (model.Order, error)
}

// Dispatching creates deliveries and finds their drivers.
type Dispatching interface {
	CreateDelivery(ctx context.Context, order model.Order) (model.Delivery, error)
	SelectDriver(ctx context.Context, deliveryID, originHospital string) (model.Driver, error)
}

// Tracking follows deliveries until completion.
type Tracking interface {
	Track(ctx context.Context, req tracking.TrackRequest) (tracking.TrackResult, error)
	EndDelivery(ctx context.Context, req tracking.EndRequest) (model.Delivery, error)
}

// HealthCheck reports a dependency failure.
type HealthCheck func(ctx context.Context) error

// Deps are the services behind the routes. Activity, Metrics and Checks are
// optional.
type Deps struct {
	Matching   Matching
	Dispatch   Dispatching
	Tracking   Tracking
	Deliveries store.DeliveryStore
	Activity   activitylog.Store
	Metrics    http.Handler
	Checks     map[string]HealthCheck
	// ActivityToken protects GET /activity when set.
	ActivityToken string
	Log           logger.Logger
}

// NewRouter builds the gin engine serving every route.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = logger.NopLogger{}
	}
	h := &handlers{d: d}

	r := gin.New()
	r.Use(Recovery(d.Log), AccessLog(d.Log))
	r.NoRoute(func(c *gin.Context) { respond(c, http.StatusNotFound, "route not found", nil) })

	r.GET("/health", h.health)

	r.POST("/initiate-match/:recipientId", h.initiateMatch)
	r.POST("/confirm-match", h.confirmMatch)

	r.POST("/createDelivery", h.createDelivery)
	r.POST("/selectDriver", h.selectDriver)
	r.POST("/trackDelivery", h.trackDelivery)
	r.POST("/endDelivery", h.endDelivery)
	r.GET("/deliveries/:id", h.getDelivery)

	if d.Activity != nil {
		r.GET("/activity", BearerAuth(d.ActivityToken), h.activity)
	}
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}
	return r
}

type handlers struct {
	d Deps
}

func (h *handlers) health(c *gin.Context) {
	failed := map[string]string{}
	for name, check := range h.d.Checks {
		if err := check(c.Request.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		respond(c, http.StatusServiceUnavailable, "degraded", failed)
		return
	}
	OK(c, "ok", gin.H{"status": "ok"})
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/organlink/core/errs"
)

// Response is the envelope of every answer of the HTTP surface.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *gin.Context, code int, message string, data any) {
	c.JSON(code, Response{Code: code, Message: message, Data: data})
}

// OK answers 200.
func OK(c *gin.Context, message string, data any) { respond(c, http.StatusOK, message, data) }

// Created answers 201.
func Created(c *gin.Context, message string, data any) { respond(c, http.StatusCreated, message, data) }

// Accepted answers 202 for work continued asynchronously.
func Accepted(c *gin.Context, message string, data any) {
	respond(c, http.StatusAccepted, message, data)
}

// Fail answers with the status mapped from the error kind and records err on
// the context for the access log.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	respond(c, errs.HTTPStatus(err), err.Error(), nil)
}

// BadRequest answers 400 for a body that could not be decoded.
func BadRequest(c *gin.Context, err error) {
	Fail(c, errs.E(errs.KindValidation, "decode request", err))
}

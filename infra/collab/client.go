// Package collab implements the store ports over the HTTP APIs of the
// collaborating record services. Every service answers the
// {code, message, data} envelope.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/infra/logger"
)

// DefaultTimeout bounds every collaborator call.
const DefaultTimeout = 10 * time.Second

// envelope is the response body of every collaborator.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type statusError struct {
	Code    int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// client performs envelope requests against one base URL. GET requests are
// attempted up to retries times within one timeout budget; other methods
// are sent once.
type client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	log     logger.Logger
	retries int
	backoff time.Duration
}

func newClient(base string, timeout time.Duration, log logger.Logger) *client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log,
		retries: 3,
		backoff: 200 * time.Millisecond,
	}
}

// call sends in as JSON (when non-nil) and decodes the envelope data into
// out (when non-nil). Failures are classified as NotFound, Conflict or
// Downstream.
func (c *client) call(ctx context.Context, op, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errs.E(errs.KindInternal, op, fmt.Errorf("marshal request: %w", err))
		}
		payload = b
	}

	attempts := 1
	if method == http.MethodGet && c.retries > 1 {
		attempts = c.retries
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		env, err := c.do(ctx, method, path, payload)
		if err == nil {
			if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
				if out != nil {
					return errs.NotFound(op, "empty response")
				}
				return nil
			}
			if err := json.Unmarshal(env.Data, out); err != nil {
				return errs.Downstream(op, fmt.Errorf("decode data: %w", err))
			}
			return nil
		}
		lastErr = err
		if !transient(err) || attempt == attempts {
			break
		}
		c.log.Warnf("%s %s attempt %d failed: %v", method, path, attempt, err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errs.Downstream(op, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
	return classify(op, lastErr)
}

func (c *client) do(ctx context.Context, method, path string, payload []byte) (envelope, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return envelope{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, fmt.Errorf("read body: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= 400 {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return envelope{}, &statusError{Code: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", decodeErr)
	}
	if env.Code >= 400 {
		return envelope{}, &statusError{Code: env.Code, Message: env.Message}
	}
	return env, nil
}

func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.Code {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func classify(op string, err error) error {
	var se *statusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusNotFound:
			return errs.E(errs.KindNotFound, op, err)
		case http.StatusConflict:
			return errs.E(errs.KindConflict, op, err)
		}
	}
	return errs.Downstream(op, err)
}

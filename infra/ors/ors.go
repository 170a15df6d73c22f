// Package ors implements geo.MapProvider on top of OpenRouteService.
package ors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/geo"
	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/infra/logger"
)

const DefaultBaseURL = "https://api.openrouteservice.org"

// Config configures the provider.
type Config struct {
	BaseURL string        `json:"base_url" koanf:"base_url"`
	APIKey  string        `json:"api_key" koanf:"api_key"`
	Profile string        `json:"profile" koanf:"profile"`
	Country string        `json:"country" koanf:"country"`
	Timeout time.Duration `json:"timeout" koanf:"timeout"`
}

// Provider calls the geocoding and directions endpoints. It is safe for
// concurrent use.
type Provider struct {
	session     *http.Client
	apiKey      string
	baseURL     string
	profile     string
	country     string
	maxAttempts int
	backoff     time.Duration
	log         logger.Logger
}

// New returns a Provider for cfg.
func New(cfg Config, log logger.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ors: api key is required")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	profile := cfg.Profile
	if profile == "" {
		profile = "driving-car"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		session:     &http.Client{Timeout: timeout},
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(base, "/"),
		profile:     profile,
		country:     cfg.Country,
		maxAttempts: 4,
		backoff:     200 * time.Millisecond,
		log:         log,
	}, nil
}

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// Geocode resolves address through /geocode/search.
func (p *Provider) Geocode(ctx context.Context, address string) (model.Coord, error) {
	const op = "geocode"
	norm := geo.NormalizeAddress(address)
	if norm == "" {
		return model.Coord{}, errs.Validation(op, "empty address")
	}
	endpoint := p.baseURL + "/geocode/search"
	resp, err := p.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := p.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("text", norm)
		q.Set("size", "1")
		if p.country != "" {
			q.Set("boundary.country", p.country)
		}
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
	if err != nil {
		return model.Coord{}, errs.Routing(op, err)
	}
	defer resp.Body.Close()

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return model.Coord{}, errs.Routing(op, fmt.Errorf("decode geocode response: %w", err))
	}
	if len(decoded.Features) == 0 {
		return model.Coord{}, errs.Routing(op, fmt.Errorf("no geocode results for %q", address))
	}
	coords := decoded.Features[0].Geometry.Coordinates
	if len(coords) != 2 {
		return model.Coord{}, errs.Routing(op, fmt.Errorf("invalid coordinate format for %q", address))
	}
	return model.Coord{Lat: coords[1], Lng: coords[0]}, nil
}

type directionsRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
}

type directionsResponse struct {
	Routes []struct {
		Summary struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"summary"`
		Geometry string `json:"geometry"`
	} `json:"routes"`
}

// Route computes the driving route through /v2/directions/{profile}. The
// geometry is an encoded polyline of precision 5.
func (p *Provider) Route(ctx context.Context, from, to model.Coord) (geo.Route, error) {
	const op = "route"
	payload, err := json.Marshal(directionsRequest{Coordinates: [][2]float64{{from.Lng, from.Lat}, {to.Lng, to.Lat}}})
	if err != nil {
		return geo.Route{}, errs.E(errs.KindInternal, op, err)
	}
	endpoint := fmt.Sprintf("%s/v2/directions/%s", p.baseURL, p.profile)
	resp, err := p.doWithRetry(ctx, func() (*http.Request, error) {
		return p.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	})
	if err != nil {
		return geo.Route{}, errs.Routing(op, err)
	}
	defer resp.Body.Close()

	var decoded directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return geo.Route{}, errs.Routing(op, fmt.Errorf("decode directions response: %w", err))
	}
	if len(decoded.Routes) == 0 {
		return geo.Route{}, errs.Routing(op, fmt.Errorf("no route from %s to %s", from, to))
	}
	r := decoded.Routes[0]
	if _, err := geo.DecodePolyline(r.Geometry); err != nil {
		return geo.Route{}, errs.Routing(op, fmt.Errorf("route geometry: %w", err))
	}
	return geo.Route{
		Polyline:        r.Geometry,
		DurationSeconds: int(math.Round(r.Summary.Duration)),
		DistanceMeters:  int(math.Round(r.Summary.Distance)),
	}, nil
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("Code %d: %s", e.Code, e.Body)
}

func (p *Provider) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Accept", "application/json, application/geo+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (p *Provider) do(req *http.Request) (*http.Response, error) {
	resp, err := p.session.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries network errors, 429 and 5xx responses with
// exponential backoff.
func (p *Provider) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := p.backoff
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}
		resp, err := p.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}
		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}
		if !retry || attempt == p.maxAttempts {
			return nil, lastErr
		}
		p.log.Debugf("ors attempt %d failed: %v", attempt, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

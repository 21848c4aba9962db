package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// Consecutive failed samples that stop sampling until the host recovers
const (
	samplerTripAfter = 5
	samplerCooldown  = 30 * time.Second
)

// HTTPSampler asks the rendering host for a session's usage at
// GET {base}/usage/{handle}. A 404 means the host has no figures yet.
// Repeated failures open a breaker shared by every session.
type HTTPSampler struct {
	client  *resty.Client
	breaker *resilience.Breaker
}

type hostSample struct {
	usage   types.Usage
	missing bool
}

// NewHTTPSampler creates a sampler against baseURL
func NewHTTPSampler(baseURL string, timeout time.Duration) *HTTPSampler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "apphost-monitor/1.0")

	return &HTTPSampler{
		client:  client,
		breaker: resilience.New("usage-sampler", resilience.ConsecutiveFailures(samplerTripAfter, samplerCooldown)),
	}
}

// Sample implements Sampler
func (s *HTTPSampler) Sample(ctx context.Context, info types.SessionInfo) (types.Usage, error) {
	handle := info.Handle
	if handle == "" {
		handle = info.ID.String()
	}

	res, err := resilience.Execute(s.breaker, func() (hostSample, error) {
		var usage types.Usage
		resp, err := s.client.R().
			SetContext(ctx).
			SetPathParam("handle", handle).
			SetResult(&usage).
			Get("/usage/{handle}")
		switch {
		case err != nil:
			return hostSample{}, err
		case resp.StatusCode() == http.StatusNotFound:
			return hostSample{missing: true}, nil
		case resp.IsError():
			return hostSample{}, fmt.Errorf("rendering host returned %s", resp.Status())
		}
		return hostSample{usage: usage}, nil
	})
	if err != nil {
		return types.Usage{}, fmt.Errorf("sample %s: %w", info.ID, err)
	}
	if res.missing {
		return types.Usage{}, ErrNoSample
	}
	return res.usage, nil
}

// Close releases idle connections to the rendering host
func (s *HTTPSampler) Close() {
	s.client.GetClient().CloseIdleConnections()
}

// Chain tries each sampler in turn and returns the first sample. It fails
// with ErrNoSample only when every sampler had nothing.
func Chain(samplers ...Sampler) Sampler {
	return SamplerFunc(func(ctx context.Context, info types.SessionInfo) (types.Usage, error) {
		var errs []error
		for _, s := range samplers {
			usage, err := s.Sample(ctx, info)
			if err == nil {
				return usage, nil
			}
			if !errors.Is(err, ErrNoSample) {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return types.Usage{}, errors.Join(errs...)
		}
		return types.Usage{}, ErrNoSample
	})
}

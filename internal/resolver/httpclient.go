package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/domain/session"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/monitoring"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/resilience"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/tracing"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/errs"
)

// HTTPClient talks to the vision resolver service over JSON/HTTP. The
// transport carries retries for transient failures; a circuit breaker stops
// hammering a resolver that is down; a rate limiter caps outbound pressure.
type HTTPClient struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
}

// HTTPConfig configures the resolver HTTP client.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPClient creates a production-ready resolver client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil // Disable logging

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	restyClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "vqa-dialogue/1.0").
		SetTransport(retryClient.HTTPClient.Transport)

	breaker := resilience.New("resolver", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			// Vision backends are slow but steady; trip only on a run of
			// failures or a clearly broken service
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
	})

	return &HTTPClient{
		resty:   restyClient,
		limiter: rate.NewLimiter(rate.Inf, 0),
		breaker: breaker,
	}
}

// WithMetrics attaches a metrics collector.
func (c *HTTPClient) WithMetrics(m *monitoring.Metrics) *HTTPClient {
	c.metrics = m
	return c
}

// WithRateLimit caps outbound requests per second.
func (c *HTTPClient) WithRateLimit(rps float64, burst int) *HTTPClient {
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *HTTPClient) BreakerState() resilience.State {
	return c.breaker.State()
}

type analyzeRequest struct {
	Subject  session.SubjectRef `json:"subject"`
	Question string             `json:"question"`
}

type analyzeResponse struct {
	Answer        string                        `json:"answer"`
	Clarification *session.ClarificationRequest `json:"clarification,omitempty"`
}

type resolveRequest struct {
	Subject       session.SubjectRef            `json:"subject"`
	Clarification *session.ClarificationRequest `json:"clarification"`
	Selection     string                        `json:"selection"`
}

type resolveResponse struct {
	Focus *session.Focus `json:"focus"`
}

type followupRequest struct {
	Subject  session.SubjectRef `json:"subject"`
	Focus    *session.Focus     `json:"focus"`
	History  []session.Turn     `json:"history,omitempty"`
	Question string             `json:"question"`
}

type followupResponse struct {
	Answer string `json:"answer"`
}

// Analyze implements Resolver.
func (c *HTTPClient) Analyze(ctx context.Context, subject session.SubjectRef, question string) (*Analysis, error) {
	var out analyzeResponse
	err := c.call(ctx, "analyze", "/v1/analyze", analyzeRequest{
		Subject:  subject,
		Question: question,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Answer == "" && out.Clarification == nil {
		return nil, errs.New(errs.KindUpstream, "resolver returned an empty analysis")
	}
	return &Analysis{Answer: out.Answer, Clarification: out.Clarification}, nil
}

// ResolveSelection implements Resolver.
func (c *HTTPClient) ResolveSelection(ctx context.Context, subject session.SubjectRef, clar *session.ClarificationRequest, selection string) (*session.Focus, error) {
	var out resolveResponse
	err := c.call(ctx, "resolve", "/v1/resolve", resolveRequest{
		Subject:       subject,
		Clarification: clar,
		Selection:     selection,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Focus == nil {
		return nil, errs.New(errs.KindUpstream, "resolver returned no focus for selection")
	}
	return out.Focus, nil
}

// AnswerFollowup implements Resolver.
func (c *HTTPClient) AnswerFollowup(ctx context.Context, subject session.SubjectRef, rctx Context, question string) (string, error) {
	var out followupResponse
	err := c.call(ctx, "followup", "/v1/followup", followupRequest{
		Subject:  subject,
		Focus:    rctx.Focus,
		History:  rctx.History,
		Question: question,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Answer, nil
}

// call runs one JSON POST through the limiter and the circuit breaker.
func (c *HTTPClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	timer := monitoring.NewTimer(c.metrics, method)

	if err := c.limiter.Wait(ctx); err != nil {
		timer.Stop("rate_limited")
		return errs.Wrap(errs.KindUpstream, "resolver rate limit wait aborted", err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		// Parse the body as JSON no matter what content type the resolver
		// declares; some backends omit the header entirely.
		req := c.resty.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(out).
			ForceContentType("application/json")
		if traceID := tracing.FromContext(ctx); traceID != "" {
			req.SetHeader(tracing.HeaderTraceID, string(traceID))
		}
		resp, err := req.Post(path)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("resolver %s returned %s", method, resp.Status())
		}
		return nil, nil
	})
	if err != nil {
		timer.Stop("error")
		return errs.Wrap(errs.KindUpstream, fmt.Sprintf("resolver %s failed", method), err)
	}

	timer.Stop("ok")
	return nil
}

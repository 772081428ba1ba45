package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/sample"
)

// Default upstream candidates, tried in order
var DefaultEndpoints = []string{
	"https://restv2.fireant.vn/markets/statistics",
	"https://restv2.fireant.vn/markets/overview",
	"https://restv2.fireant.vn/markets/cashflow",
	"https://restv2.fireant.vn/markets/summary",
}

// DefaultHeaders are sent with every candidate request
var DefaultHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Accept":     "application/json",
	"Referer":    "https://fireant.vn",
}

const (
	// DefaultTimeout bounds each candidate attempt
	DefaultTimeout = 5 * time.Second

	// DefaultUnitDivisor converts raw currency units to billions
	DefaultUnitDivisor = 1e9

	maxBodyBytes = 1 << 20
)

var errNoShape = errors.New("no known field layout")

// Fetcher yields one sample per call and never fails.
type Fetcher interface {
	FetchSample(ctx context.Context) sample.Sample
}

// Config holds adapter configuration
type Config struct {
	Endpoints   []string
	Timeout     time.Duration
	Headers     map[string]string
	UnitDivisor float64

	// Client defaults to a plain http.Client; per-attempt deadlines come from Timeout
	Client *http.Client

	// Now defaults to time.Now
	Now func() time.Time

	Synthetic Generator
	Logger    *zap.Logger
}

// Adapter walks an ordered list of candidate endpoints and falls back to
// synthetic data. It holds no state between calls.
type Adapter struct {
	endpoints []string
	timeout   time.Duration
	headers   map[string]string
	divisor   float64
	client    *http.Client
	now       func() time.Time
	synthetic Generator
	logger    *zap.Logger
}

// New creates an adapter. Zero-valued fields take defaults; a nil Endpoints
// list uses DefaultEndpoints, an empty non-nil list always synthesizes.
func New(cfg Config) *Adapter {
	a := &Adapter{
		endpoints: cfg.Endpoints,
		timeout:   cfg.Timeout,
		headers:   cfg.Headers,
		divisor:   cfg.UnitDivisor,
		client:    cfg.Client,
		now:       cfg.Now,
		synthetic: cfg.Synthetic,
		logger:    cfg.Logger,
	}
	if a.endpoints == nil {
		a.endpoints = DefaultEndpoints
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.headers == nil {
		a.headers = DefaultHeaders
	}
	if a.divisor <= 0 {
		a.divisor = DefaultUnitDivisor
	}
	if a.client == nil {
		a.client = &http.Client{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// Endpoints returns the candidate list in priority order
func (a *Adapter) Endpoints() []string {
	out := make([]string, len(a.endpoints))
	copy(out, a.endpoints)
	return out
}

// FetchSample returns a real sample from the first candidate that yields a
// recognised shape, or a synthetic one.
func (a *Adapter) FetchSample(ctx context.Context) sample.Sample {
	return a.Fetch(ctx).Sample
}

// Fetch is FetchSample with the per-attempt record.
func (a *Adapter) Fetch(ctx context.Context) Report {
	report := Report{Attempts: make([]Attempt, 0, len(a.endpoints))}

	for _, endpoint := range a.endpoints {
		if ctx.Err() != nil {
			report.Attempts = append(report.Attempts, Attempt{Endpoint: endpoint, Outcome: OutcomeSkipped})
			continue
		}

		attempt, up, down := a.try(ctx, endpoint)
		report.Attempts = append(report.Attempts, attempt)

		if attempt.Outcome == OutcomeSuccess {
			report.Sample = sample.New(a.now(), up/a.divisor, down/a.divisor, sample.ProvenanceReal)
			a.logger.Debug("fetched sample",
				zap.String("endpoint", endpoint),
				zap.String("extractor", attempt.Extractor),
				zap.Duration("duration", attempt.Duration))
			return report
		}

		a.logger.Debug("candidate failed",
			zap.String("endpoint", endpoint),
			zap.String("outcome", string(attempt.Outcome)),
			zap.String("error", attempt.Error))
	}

	report.Sample = a.synthetic.Generate(a.now())
	a.logger.Warn("all candidates failed, using synthetic sample",
		zap.Int("attempts", len(report.Attempts)))
	return report
}

// try performs one bounded attempt against a candidate
func (a *Adapter) try(ctx context.Context, endpoint string) (Attempt, float64, float64) {
	attempt := Attempt{Endpoint: endpoint}
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	fail := func(outcome Outcome, err error) (Attempt, float64, float64) {
		attempt.Outcome = outcome
		if err != nil {
			attempt.Error = err.Error()
		}
		attempt.Duration = time.Since(start)
		return attempt, 0, 0
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fail(OutcomeTransport, err)
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fail(classify(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		attempt.StatusCode = resp.StatusCode
		return fail(OutcomeStatus, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	attempt.StatusCode = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fail(classify(err), err)
	}

	up, down, name, err := extract(body)
	if errors.Is(err, errNoShape) {
		return fail(OutcomeShapeMismatch, err)
	}
	if err != nil {
		return fail(OutcomeDecode, err)
	}

	attempt.Outcome = OutcomeSuccess
	attempt.Extractor = name
	attempt.Duration = time.Since(start)
	return attempt, up, down
}

func classify(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeTransport
}

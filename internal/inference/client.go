// Package inference calls the variant-analysis backend. Every call is a
// unique, non-idempotent computation, so nothing here goes through the queue
// or the cache.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"resty.dev/v3"

	"github.com/shivazshu/evo2-vep/internal/config"
)

var (
	// ErrNotConfigured is returned when no backend endpoint is set.
	ErrNotConfigured = errors.New("inference endpoint not configured")
	// ErrTransport marks failures that never reached the backend.
	ErrTransport = errors.New("inference transport failure")
	// ErrInvalidRequest marks requests rejected before any network call.
	ErrInvalidRequest = errors.New("invalid analysis request")
)

// Request describes one substitution to score.
type Request struct {
	Position    int64  `json:"variant_pos"`
	Alternative string `json:"alternative"`
	Genome      string `json:"genome"`
	Chromosome  string `json:"chromosome"`
	Strand      string `json:"strand"`
}

// Prediction is the backend's scored verdict.
type Prediction struct {
	Delta      float64 `json:"delta_score"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"classification_confidence"`
}

// BackendError means the analysis backend answered and rejected the request
// or failed internally. Transport-level failures are plain wrapped errors, so
// callers can tell the two apart.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("inference backend returned status %d: %s", e.Status, e.Body)
}

type Client struct {
	http     *resty.Client
	endpoint string
	logger   *slog.Logger
}

func New(cfg config.InferenceConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:     resty.New().SetTimeout(cfg.Timeout()),
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		logger:   logger.With(slog.String("component", "inference")),
	}
}

func (c *Client) Close() error {
	return c.http.Close()
}

// Analyze scores one substitution. The backend takes its input as query
// parameters on a POST, so the request body is flattened onto the URL.
func (c *Client) Analyze(ctx context.Context, req Request) (Prediction, error) {
	if c.endpoint == "" {
		return Prediction{}, ErrNotConfigured
	}
	if err := validate(req); err != nil {
		return Prediction{}, err
	}
	strand := req.Strand
	if strand == "" {
		strand = "+"
	}

	var prediction Prediction
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"variant_pos": strconv.FormatInt(req.Position, 10),
			"alternative": req.Alternative,
			"genome":      req.Genome,
			"chromosome":  req.Chromosome,
			"strand":      strand,
		}).
		SetHeader("User-Agent", "evo2-vep/1.0").
		SetResult(&prediction).
		Post(c.endpoint)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if !res.IsSuccess() {
		c.logger.Warn("inference backend rejected request",
			slog.Int("status", res.StatusCode()),
			slog.Int64("position", req.Position))
		return Prediction{}, &BackendError{Status: res.StatusCode(), Body: strings.TrimSpace(res.String())}
	}
	return prediction, nil
}

var validBases = map[string]bool{"A": true, "C": true, "G": true, "T": true}

func validate(req Request) error {
	switch {
	case req.Position <= 0:
		return fmt.Errorf("%w: variant position must be positive, got %d", ErrInvalidRequest, req.Position)
	case !validBases[strings.ToUpper(req.Alternative)]:
		return fmt.Errorf("%w: alternative must be one of A, C, G, T, got %q", ErrInvalidRequest, req.Alternative)
	case req.Genome == "":
		return fmt.Errorf("%w: genome is required", ErrInvalidRequest)
	case req.Chromosome == "":
		return fmt.Errorf("%w: chromosome is required", ErrInvalidRequest)
	}
	return nil
}

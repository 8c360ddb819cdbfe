package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"nlu-agent/model"
)

const (
	DefaultTimeout             = 10 * time.Second
	DefaultConfidenceThreshold = 0.5
)

// Client calls the remote intent classifier. Classify never fails; any
// problem yields model.DegradedClassification.
type Client struct {
	url       string
	threshold float64
	httpCli   *http.Client
	logger    *zap.Logger
}

// Config for NewClient. Zero Timeout and ConfidenceThreshold take the defaults.
type Config struct {
	URL                 string
	Timeout             time.Duration
	ConfidenceThreshold float64
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:       cfg.URL,
		threshold: cfg.ConfidenceThreshold,
		httpCli:   &http.Client{Timeout: cfg.Timeout},
		logger:    logger.Named("classifier"),
	}
}

type classifyRequest struct {
	Text    string             `json:"text"`
	Context *model.ContextHint `json:"context,omitempty"`
}

type classifyResponse struct {
	Intent     *string          `json:"intent"`
	Confidence float64          `json:"confidence"`
	Slots      map[string]any   `json:"slots"`
	Entities   []map[string]any `json:"entities"`
	Candidates []map[string]any `json:"candidates"`
}

func (c *Client) Classify(ctx context.Context, text string, hint *model.ContextHint) model.ClassificationResult {
	cls, err := c.classify(ctx, text, hint)
	if err != nil {
		c.logger.Warn("Classifier unavailable, degrading", zap.Error(err))
		return model.DegradedClassification()
	}
	return cls
}

func (c *Client) classify(ctx context.Context, text string, hint *model.ContextHint) (model.ClassificationResult, error) {
	if c.url == "" {
		return model.ClassificationResult{}, fmt.Errorf("classifier url not configured")
	}

	bs, err := json.Marshal(classifyRequest{Text: text, Context: hint})
	if err != nil {
		return model.ClassificationResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bs))
	if err != nil {
		return model.ClassificationResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpCli.Do(httpReq)
	if err != nil {
		return model.ClassificationResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.ClassificationResult{}, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, body)
	}

	var cr classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return model.ClassificationResult{}, fmt.Errorf("decode classifier response: %w", err)
	}

	cls := model.ClassificationResult{
		Confidence: clamp(cr.Confidence),
		Slots:      cr.Slots,
		Entities:   cr.Entities,
		Candidates: cr.Candidates,
	}
	if cr.Intent != nil {
		cls.Intent = *cr.Intent
	}
	if cls.Slots == nil {
		cls.Slots = map[string]any{}
	}
	cls.NeedsClarification = cls.Confidence < c.threshold

	c.logger.Debug("Classified",
		zap.String("intent", cls.Intent),
		zap.Float64("confidence", cls.Confidence),
		zap.Int("slots", len(cls.Slots)),
		zap.Duration("elapsed", time.Since(start)))
	return cls, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

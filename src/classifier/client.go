// Package classifier adapts a text-classification inference server to the
// moderation Classifier port.
package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/webclient"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	infoPath    = "/info"
	predictPath = "/predict"

	maxBodyBytes = 1 << 20
)

// Options tune a Client. Zero values fall back to defaults.
type Options struct {
	// Timeout bounds a single prediction.
	Timeout time.Duration
	// StartupTimeout bounds how long New waits for the server to come up.
	StartupTimeout time.Duration
	// Labels is the label order used when the server does not publish one.
	Labels     []string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the inference server over HTTP. It is safe for concurrent use.
type Client struct {
	endpoint   string
	model      string
	labels     []string
	index      map[string]int
	httpClient *http.Client
	logger     *zap.Logger
}

type infoResponse struct {
	ModelID   string `json:"model_id"`
	ModelType struct {
		Classifier struct {
			ID2Label map[string]string `json:"id2label"`
		} `json:"classifier"`
	} `json:"model_type"`
}

type predictRequest struct {
	Inputs   string `json:"inputs"`
	Truncate bool   `json:"truncate"`
}

type prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// New connects to the server at endpoint and reads its model metadata,
// retrying until the server answers or StartupTimeout elapses.
func New(ctx context.Context, endpoint string, opts Options) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.StartupTimeout == 0 {
		opts.StartupTimeout = 2 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = webclient.NewDefault(opts.Timeout)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.With(zap.String("component", "classifier")),
	}

	ctx, cancel := context.WithTimeout(ctx, opts.StartupTimeout)
	defer cancel()

	retry := webclient.RetryOptions{
		Attempts:        1000,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  opts.StartupTimeout,
	}
	attempt := 0
	status, body, err := webclient.DoWithRetry(ctx, retry, func() (int, []byte, error) {
		attempt++
		status, body, err := c.get(ctx, infoPath)
		if err != nil || webclient.Transient(status) {
			c.logger.Info("Waiting for classifier",
				zap.String("endpoint", c.endpoint),
				zap.Int("attempt", attempt),
				zap.Int("status", status),
				zap.Error(err))
		}
		return status, body, err
	})
	if err != nil {
		return nil, fmt.Errorf("classifier info: %w: %w", moderation.ErrClassifierUnavailable, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("classifier info: %w: status %d", moderation.ErrClassifierUnavailable, status)
	}

	var info infoResponse
	if err := sonic.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode classifier info: %w", err)
	}
	c.model = info.ModelID
	c.labels = orderedLabels(info.ModelType.Classifier.ID2Label)
	if len(c.labels) == 0 {
		c.labels = append([]string(nil), opts.Labels...)
	}
	if len(c.labels) == 0 {
		return nil, errors.New("classifier publishes no labels and none are configured")
	}
	c.index = make(map[string]int, len(c.labels))
	for i, l := range c.labels {
		c.index[l] = i
	}

	c.logger.Info("Classifier ready",
		zap.String("model", c.model),
		zap.Strings("labels", c.labels))
	return c, nil
}

// Model is the model id reported by the server.
func (c *Client) Model() string { return c.model }

// Labels is the label order results are returned in.
func (c *Client) Labels() []string { return append([]string(nil), c.labels...) }

func (c *Client) Classify(ctx context.Context, text string) ([]moderation.LabelScore, error) {
	// The server rejects empty input; a single space tokenizes the same way.
	if strings.TrimSpace(text) == "" {
		text = " "
	}

	payload, err := sonic.Marshal(predictRequest{Inputs: text, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("encode prediction request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+predictPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict: %w: %w", moderation.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read prediction: %w: %w", moderation.ErrClassifierUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("predict: %w: status %d: %s", moderation.ErrClassifierUnavailable, resp.StatusCode, snippet(body))
	}

	preds, err := decodePredictions(body)
	if err != nil {
		return nil, fmt.Errorf("decode prediction: %w: %w", moderation.ErrClassifierUnavailable, err)
	}
	return c.order(preds), nil
}

// order lays predictions out in label order. Known labels missing from the
// response score zero; labels the model never announced go last.
func (c *Client) order(preds []prediction) []moderation.LabelScore {
	out := make([]moderation.LabelScore, len(c.labels))
	for i, l := range c.labels {
		out[i] = moderation.LabelScore{Label: l}
	}
	for _, p := range preds {
		if i, ok := c.index[p.Label]; ok {
			out[i].Probability = p.Score
			continue
		}
		out = append(out, moderation.LabelScore{Label: p.Label, Probability: p.Score})
	}
	return out
}

func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode, body, err
}

// decodePredictions accepts both the single-input and the batched response shape.
func decodePredictions(body []byte) ([]prediction, error) {
	var flat []prediction
	if err := sonic.Unmarshal(body, &flat); err == nil {
		return flat, nil
	}
	var batched [][]prediction
	if err := sonic.Unmarshal(body, &batched); err != nil {
		return nil, err
	}
	if len(batched) == 0 {
		return nil, errors.New("empty prediction batch")
	}
	return batched[0], nil
}

func orderedLabels(id2label map[string]string) []string {
	if len(id2label) == 0 {
		return nil
	}
	type entry struct {
		id    int
		label string
	}
	entries := make([]entry, 0, len(id2label))
	for k, v := range id2label {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil
		}
		entries = append(entries, entry{id, v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	labels := make([]string, len(entries))
	for i, e := range entries {
		labels[i] = e.label
	}
	return labels
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

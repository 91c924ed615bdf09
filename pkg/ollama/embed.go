// Package ollama embeds text through Ollama's HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/pkg/fn"
	"github.com/Scopeo/draftnrun-sub004/pkg/resilience"
)

// Options configures an EmbedClient.
type Options struct {
	// Timeout bounds one embed request.
	Timeout time.Duration
	// RatePerSecond and Burst shape outgoing requests. Zero rate is unlimited.
	RatePerSecond float64
	Burst         int
	// Breaker is shared across calls; nil uses a default breaker.
	Breaker *resilience.Breaker
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// DefaultOptions returns the client defaults.
func DefaultOptions() Options {
	return Options{Timeout: 60 * time.Second, Burst: 1}
}

// EmbedClient turns batches of texts into vectors, one request per batch.
type EmbedClient struct {
	baseURL string
	model   string
	client  *http.Client
	timeout time.Duration
	limiter *resilience.Limiter
	breaker *resilience.Breaker
}

// NewEmbedClient creates an Ollama embedding client.
func NewEmbedClient(baseURL, model string, opts Options) *EmbedClient {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	breaker := opts.Breaker
	if breaker == nil {
		bo := resilience.DefaultBreakerOpts
		bo.Counts = func(err error) bool { return errors.Is(err, domain.ErrTransport) }
		breaker = resilience.NewBreaker(bo)
	}
	return &EmbedClient{
		baseURL: baseURL,
		model:   model,
		client:  client,
		timeout: opts.Timeout,
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.RatePerSecond, Burst: opts.Burst}),
		breaker: breaker,
	}
}

// Model returns the embedding model name.
func (c *EmbedClient) Model() string { return c.model }

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per text, in order. An empty batch makes no request.
func (c *EmbedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewTransportError("ollama embed", err)
	}
	vecs, err := resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[[][]float32] {
		vecs, err := c.embed(ctx, texts)
		return fn.FromPair(vecs, err)
	}).Unwrap()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, domain.NewTransportError("ollama embed", err)
	}
	return vecs, err
}

func (c *EmbedClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(embedReq{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.NewTransportError("ollama embed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.NewTransportError("ollama embed", fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.NewProtocolError("ollama embed", "decode: %v", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, domain.NewProtocolError("ollama embed", "got %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}
	for i, v := range result.Embeddings {
		if len(v) == 0 {
			return nil, domain.NewProtocolError("ollama embed", "empty embedding at %d", i)
		}
	}
	return result.Embeddings, nil
}

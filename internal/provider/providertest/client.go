// Package providertest supplies scripted provider clients for tests. No
// test in this module talks to a live model API.
package providertest

import (
	"context"
	"sync"

	"lumen/internal/provider"
)

// Client is a scripted provider.Client. Each Complete call consumes the next
// queued Response; when the queue is exhausted the last response repeats.
type Client struct {
	TierValue Tier
	ModelName string
	Vision    bool
	Grounding bool

	mu        sync.Mutex
	queue     []provider.Response
	Requests  []provider.Request
}

// Tier aliases provider.Tier so call sites stay short.
type Tier = provider.Tier

// New returns a scripted client for a tier.
func New(tier Tier, model string) *Client {
	return &Client{TierValue: tier, ModelName: model}
}

// Reply queues a successful response with the given content.
func (c *Client) Reply(content string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, provider.Success(c.TierValue, c.ModelName, content,
		provider.Usage{PromptTokens: 10, CompletionTokens: 20}, 5))
	return c
}

// Fail queues a failure response.
func (c *Client) Fail(kind provider.ErrorKind, err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, provider.Failure(c.TierValue, c.ModelName, kind, err, 5))
	return c
}

// Queue appends an arbitrary response.
func (c *Client) Queue(resp provider.Response) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, resp)
	return c
}

func (c *Client) Tier() provider.Tier    { return c.TierValue }
func (c *Client) Model() string          { return c.ModelName }
func (c *Client) SupportsVision() bool   { return c.Vision }
func (c *Client) SupportsGrounding() bool { return c.Grounding }

// Complete records the request and pops the next scripted response.
func (c *Client) Complete(_ context.Context, req provider.Request) provider.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, req)
	if len(c.queue) == 0 {
		return provider.Failure(c.TierValue, c.ModelName, provider.ErrorNetwork,
			context.DeadlineExceeded, 0)
	}
	resp := c.queue[0]
	if len(c.queue) > 1 {
		c.queue = c.queue[1:]
	}
	return resp
}

// Calls returns how many completions were requested.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

package llm

import (
	"context"
	"sync"
	"time"

	"github.com/refinelabs/refinery/pkg/errors"
)

// Mock is a Gateway for tests and offline runs. Responses are served
// in FIFO order; when the queue is empty it echoes a canned reply.
type Mock struct {
	mu        sync.Mutex
	queue     []*Response
	errQueue  []error
	requests  []Request
	TokenCost int // tokens reported per canned reply, defaults to 10
}

// NewMock creates an empty mock gateway.
func NewMock() *Mock {
	return &Mock{TokenCost: 10}
}

// Enqueue adds a canned response.
func (m *Mock) Enqueue(resp *Response) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resp)
	return m
}

// EnqueueError makes the next call fail.
func (m *Mock) EnqueueError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errQueue = append(m.errQueue, err)
	return m
}

// Requests returns every request seen so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Gateway.
func (m *Mock) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := errors.CheckContext(ctx, "mock generation"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.errQueue) > 0 {
		err := m.errQueue[0]
		m.errQueue = m.errQueue[1:]
		return nil, err
	}
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return resp, nil
	}
	return &Response{
		Content:      `{"status":"ok"}`,
		TokensUsed:   m.TokenCost,
		Model:        "mock",
		ResponseTime: time.Millisecond,
	}, nil
}

package judge

import (
	"context"
	"sync"
)

// DefaultStaticResponse scores every dimension 4 with no uncertainty.
const DefaultStaticResponse = `{"dimensions":{` +
	`"accuracy":{"score":4,"reasoning":"static judge"},` +
	`"safety":{"score":4,"reasoning":"static judge"},` +
	`"alignment":{"score":4,"reasoning":"static judge"},` +
	`"tone":{"score":4,"reasoning":"static judge"},` +
	`"conciseness":{"score":4,"reasoning":"static judge"}},"uncertain":false}`

// Step is one scripted judge reply.
type Step struct {
	Raw string
	Err error
}

// Static replays a fixed script of replies, then falls back to Default.
// Used offline and in tests.
type Static struct {
	mu      sync.Mutex
	script  []Step
	Default string
	calls   []Request
}

// NewStatic creates a scripted judge.
func NewStatic(steps ...Step) *Static {
	return &Static{script: steps, Default: DefaultStaticResponse}
}

// Judge implements Judge.
func (s *Static) Judge(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.script) == 0 {
		return s.Default, nil
	}
	step := s.script[0]
	s.script = s.script[1:]
	return step.Raw, step.Err
}

// Calls returns the number of Judge invocations so far.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Push appends steps to the script.
func (s *Static) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, steps...)
}

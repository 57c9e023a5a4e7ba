package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// BatchResult is the outcome of one request in a batch.
type BatchResult struct {
	Evaluation evaluation.Evaluation
	Err        error
}

// SubmitBatch submits reqs with at most concurrency in flight. Results keep
// request order; one failure does not cancel the others.
func (p *Pipeline) SubmitBatch(ctx context.Context, reqs []evaluation.Request, concurrency int) []BatchResult {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]BatchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			ev, err := p.Submit(ctx, req)
			results[i] = BatchResult{Evaluation: ev, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

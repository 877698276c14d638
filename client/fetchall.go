package client

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Target is one FETCH to issue: where to send it and what to encode.
type Target struct {
	URI     string
	Payload interface{}
}

// Result of a single target of FetchAll.
type Result struct {
	Target   Target
	Response *Response
	Err      error
}

// FetchAll fetches every target independently, at most Config.MaxParallel at
// once. Results keep the order of targets and a failing target doesn't
// cancel the others.
func (c *Client) FetchAll(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))
	var g errgroup.Group
	if c.cfg.MaxParallel > 0 {
		g.SetLimit(c.cfg.MaxParallel)
	}
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			resp, err := c.Fetch(ctx, t.URI, t.Payload)
			results[i] = Result{Target: t, Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

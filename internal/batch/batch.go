// Package batch runs many independent tile fetches under a fixed concurrency
// limit and reports one outcome per tile in completion order.
package batch

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/tile"
)

// DefaultConcurrency is the worker count used when none is given.
const DefaultConcurrency = 10

// Status is the terminal state of one tile in a batch.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Outcome is the result of fetching one tile.
type Outcome struct {
	Key    tile.Key
	Status Status
	Reason string
	Err    error
}

// FetchFunc fetches one tile and reports whether it was downloaded (true) or
// already present (false).
type FetchFunc func(ctx context.Context, k tile.Key) (downloaded bool, err error)

// Run fetches tiles with at most concurrency fetches in flight. The returned
// channel yields exactly one Outcome per dispatched tile, in completion
// order, and is closed once every dispatched tile has resolved. A failing
// tile never stops the others and is not retried.
//
// Cancelling ctx stops dispatching further tiles. Fetches already running
// are not interrupted; they run on a context detached from ctx's
// cancellation and their outcomes are still delivered.
func Run(ctx context.Context, tiles []tile.Key, concurrency int, fetch FetchFunc) <-chan Outcome {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	// Buffered to len(tiles) so workers never block on a consumer that has
	// gone away.
	out := make(chan Outcome, len(tiles))
	fetchCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(out)

		sem := semaphore.NewWeighted(int64(concurrency))
		var g errgroup.Group
		for _, k := range tiles {
			// nothing further is dispatched once ctx is cancelled
			if ctx.Err() != nil {
				break
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				out <- runOne(fetchCtx, k, fetch)
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}

func runOne(ctx context.Context, k tile.Key, fetch FetchFunc) (o Outcome) {
	o.Key = k
	defer func() {
		if r := recover(); r != nil {
			o.Status = StatusFailed
			o.Err = errors.Newf("fetch panicked: %v", r).Component("batch").Build()
			o.Reason = o.Err.Error()
		}
	}()

	downloaded, err := fetch(ctx, k)
	switch {
	case err != nil:
		o.Status = StatusFailed
		o.Err = err
		o.Reason = Reason(err)
	case downloaded:
		o.Status = StatusDownloaded
	default:
		o.Status = StatusSkipped
	}
	return o
}

// Reason renders an error as a single-line failure reason.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return lineBreaks.Replace(strings.TrimSpace(err.Error()))
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ")

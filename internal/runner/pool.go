package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

type Job func(ctx context.Context) error

// RunPool executes jobs with at most maxWorkers concurrently. A failing job
// does not stop the others. Returns all errors.
func RunPool(ctx context.Context, maxWorkers int, jobs []Job) []error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for _, job := range jobs {
		g.Go(func() error {
			if err := job(gCtx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errs
}

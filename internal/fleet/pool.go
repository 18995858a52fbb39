package fleet

import "golang.org/x/sync/errgroup"

// Pool runs the parallel parts of a single step on a bounded number of
// goroutines. A nil Pool runs everything on the caller.
type Pool struct {
	size int
}

// PoolSize picks the intra-step parallelism: the configured size when it is
// above one, otherwise every core on machines with more than two. Zero means
// no pool.
func PoolSize(disabled bool, configured, cores int) int {
	switch {
	case disabled:
		return 0
	case configured > 1 && cores > 1:
		return configured
	case cores > 2:
		return cores
	}
	return 0
}

func NewPool(size int) *Pool {
	if size <= 1 {
		return nil
	}
	return &Pool{size: size}
}

func (p *Pool) Size() int {
	if p == nil {
		return 1
	}
	return p.size
}

// Run calls fn for every index in [0, n) and returns once all calls have
// finished. No goroutine outlives Run.
func (p *Pool) Run(n int, fn func(i int)) {
	if p == nil || n <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(p.size)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

// Package workerpool runs a small, fixed number of concurrent tasks and
// collects their errors, trusting the Go scheduler rather than managing a
// worker-count knob.
package workerpool

import "sync"

// Run executes each fn concurrently and waits for all of them to finish. It
// returns the first error encountered, by slice index, or nil if every fn
// succeeded. This is the whole of what the pipe drainer (internal/runner)
// needs: run exactly two goroutines (stdout/stderr) while the child runs,
// before the child's Wait(), without hand-rolling a WaitGroup and error
// slice at each call site.
func Run(fns ...func() error) error {
	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func(index int, f func() error) {
			defer wg.Done()
			errs[index] = f()
		}(i, fn)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Load generator for the pool. Concurrent submitters push CPU-light
// tasks as fast as they can; the run reports sustained submit and
// completion throughput plus the final pool counters.
//
// Run: go run ./loadtest -workers 16 -submitters 8 -tasks 50000
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fluxorio/taskpool/pkg/core"
	"github.com/fluxorio/taskpool/pkg/pool"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	workers := flag.Int("workers", 16, "pool workers")
	submitters := flag.Int("submitters", 8, "concurrent submitter goroutines")
	tasks := flag.Int("tasks", 50000, "tasks per submitter")
	flag.Parse()

	p, err := pool.New(pool.Config{Workers: *workers, Logger: core.NopLogger{}})
	if err != nil {
		log.Fatalf("pool: %v", err)
	}

	log.Printf("starting: workers=%d submitters=%d total_tasks=%d",
		*workers, *submitters, *submitters**tasks)

	start := time.Now()
	var g errgroup.Group
	for s := 0; s < *submitters; s++ {
		g.Go(func() error {
			for i := 0; i < *tasks; i++ {
				if _, err := p.Submit(work); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("submit: %v", err)
	}
	submitElapsed := time.Since(start)

	p.WaitAll()
	total := time.Since(start)

	st := p.Status()
	fmt.Printf("submitted %d tasks in %s (%.0f submits/s)\n",
		st.Submitted, submitElapsed.Round(time.Millisecond),
		float64(st.Submitted)/submitElapsed.Seconds())
	fmt.Printf("completed %d tasks in %s (%.0f tasks/s), failed=%d\n",
		st.Completed, total.Round(time.Millisecond),
		float64(st.Completed)/total.Seconds(), st.Failed)

	p.Shutdown(pool.WaitForAllTasks)
}

func work(ctx context.Context) (any, error) {
	x := 0
	for i := 0; i < 1000; i++ {
		x += i * i
	}
	return x, nil
}

package server

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/ratelimit"
)

// Dependency states reported under /health
const (
	DependencyUp       = "up"
	DependencyDown     = "down"
	DependencyDisabled = "disabled"
)

// DependencyReport is the state of one backing service
type DependencyReport struct {
	Status string                 `json:"status"`
	Error  string                 `json:"error,omitempty"`
	Pool   map[string]interface{} `json:"pool,omitempty"`
}

// checkDependencies runs every health check concurrently, each bounded by
// the check timeout. down lists the failing dependencies in name order.
func (s *Server) checkDependencies(ctx context.Context) (reports map[string]DependencyReport, down []string) {
	reports = make(map[string]DependencyReport, len(s.options.Dependencies))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, dep := range s.options.Dependencies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, s.options.CheckTimeout)
			defer cancel()

			report := DependencyReport{Status: DependencyUp, Pool: dep.GetPoolStats()}
			switch err := dep.HealthCheck(checkCtx); {
			case errors.Is(err, ratelimit.ErrRedisDisabled):
				report = DependencyReport{Status: DependencyDisabled}
			case err != nil:
				report.Status, report.Error = DependencyDown, err.Error()
			}

			mu.Lock()
			reports[name] = report
			if report.Status == DependencyDown {
				down = append(down, name)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	sort.Strings(down)
	return reports, down
}

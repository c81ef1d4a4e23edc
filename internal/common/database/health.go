package database

import (
	"context"
	"time"
)

// Pinger is a backing store that can report its own reachability.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// CheckAll pings every dependency with a shared deadline and returns the
// failures keyed by dependency name. An empty map means all are reachable.
func CheckAll(ctx context.Context, timeout time.Duration, deps ...Pinger) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	failures := make(map[string]error)
	for _, dep := range deps {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			failures[dep.Name()] = err
		}
	}
	return failures
}

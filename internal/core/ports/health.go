package ports

import "context"

// HealthChecker is one dependency reported by GET /health. Ping returns nil
// when the dependency can serve ledger traffic.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string
}

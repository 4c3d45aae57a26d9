package environ

import (
	"context"
	"fmt"
	"strconv"
)

// PGCapacityProbe reports the server's connection capacity and utilization.
// It implements plan.CapacityProbe.
type PGCapacityProbe struct {
	db DB
}

// NewPGCapacityProbe creates a probe over an admin connection.
func NewPGCapacityProbe(db DB) *PGCapacityProbe {
	return &PGCapacityProbe{db: db}
}

// Snapshot samples max_connections and the current backend count. Called
// immediately before planning each phase so capacity is never stale across
// phases.
func (p *PGCapacityProbe) Snapshot(ctx context.Context) (int, int, error) {
	var maxStr string
	if err := p.db.QueryRow(ctx, "SHOW max_connections").Scan(&maxStr); err != nil {
		return 0, 0, fmt.Errorf("failed to read max_connections: %w", err)
	}
	maxCap, err := strconv.Atoi(maxStr)
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected max_connections value %q: %w", maxStr, err)
	}

	var used int
	if err := p.db.QueryRow(ctx, "SELECT count(*) FROM pg_stat_activity").Scan(&used); err != nil {
		return 0, 0, fmt.Errorf("failed to count active backends: %w", err)
	}
	return maxCap, used, nil
}

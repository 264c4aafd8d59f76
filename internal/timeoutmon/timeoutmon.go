// Package timeoutmon periodically sweeps the connection tracker for stale
// heartbeats and feeds every account that timed out back through the status
// updater, so the affected cluster's runtime status and published configs
// stay consistent with the change.
package timeoutmon

import (
	"context"
	"time"

	"github.com/sankey-copier/relay-server/internal/conntrack"
	"github.com/sankey-copier/relay-server/internal/statusupdater"
	"go.uber.org/zap"
)

// Monitor runs conntrack.CheckTimeouts on a fixed interval.
type Monitor struct {
	conns    *conntrack.Tracker
	updater  *statusupdater.Updater
	interval time.Duration
	log      *zap.Logger
}

// New builds a Monitor.
func New(conns *conntrack.Tracker, updater *statusupdater.Updater, interval time.Duration, log *zap.Logger) *Monitor {
	return &Monitor{conns: conns, updater: updater, interval: interval, log: log}
}

// Run sweeps once immediately, then on every tick, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.sweep(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	for _, acc := range m.conns.CheckTimeouts() {
		if err := m.updater.RecomputeAccount(ctx, acc.Role, acc.AccountID); err != nil {
			m.log.Error("recompute account after timeout", zap.String("account_id", acc.AccountID), zap.Error(err))
		}
	}
}

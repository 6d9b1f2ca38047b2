package machine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"nutribin-backend/internal/notification"
	"nutribin-backend/internal/store"
)

var machinesWentOffline = promauto.NewCounter(prometheus.CounterOpts{
	Name: "nutribin_machines_offline_total",
	Help: "Machines flipped to inactive by the liveness sweep.",
})

// Sweeper periodically marks machines inactive when they stop reporting.
type Sweeper struct {
	store      store.Store
	dispatcher notification.Dispatcher
	interval   time.Duration
	timeout    time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewSweeper creates a liveness sweeper. dispatcher may be nil.
func NewSweeper(s store.Store, dispatcher notification.Dispatcher, interval, timeout time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		store:      s,
		dispatcher: dispatcher,
		interval:   interval,
		timeout:    timeout,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("starting liveness sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("offline_timeout", s.timeout))

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("liveness sweeper shutting down")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// SweepOnce flips stale machines offline and queues an alert for each.
func (s *Sweeper) SweepOnce(ctx context.Context) []string {
	cutoff := s.now().Add(-s.timeout)
	ids, err := s.store.MarkStale(ctx, cutoff)
	if err != nil {
		s.log.Error("liveness sweep failed", zap.Error(err))
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	machinesWentOffline.Add(float64(len(ids)))
	s.log.Info("machines went offline", zap.Strings("machine_ids", ids))
	if s.dispatcher != nil {
		for _, id := range ids {
			s.dispatcher.Dispatch(notification.MachineOfflineJob(id))
		}
	}
	return ids
}

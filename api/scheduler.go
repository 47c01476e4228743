/*
scheduler.go - Overdue invoice scheduler

PURPOSE:
  Periodically scans open invoices and reports the ones past their due date
  with money still owing. Nothing is mutated: overdue is a derived condition,
  the scheduler only surfaces it in the logs for collections.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Checks once immediately on Start, then on every tick
  - Remembers the last run so tests and health checks can observe it

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewOverdueScheduler(engine.Invoices)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ListOverdueInvoices endpoint (on-demand check)
  - invoice/invoice.go: ListOverdue
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/sales-engine/crm"
)

// OverdueLister finds invoices overdue as of a point in time.
type OverdueLister interface {
	ListOverdue(ctx context.Context, asOf time.Time) ([]*crm.Invoice, error)
}

// OverdueScheduler logs overdue invoices on a fixed interval.
type OverdueScheduler struct {
	Invoices      OverdueLister
	CheckInterval time.Duration
	Enabled       bool
	Clock         crm.Clock
	Logger        *slog.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
	overdue int
}

// NewOverdueScheduler creates a new scheduler.
func NewOverdueScheduler(invoices OverdueLister) *OverdueScheduler {
	return &OverdueScheduler{
		Invoices:      invoices,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

func (s *OverdueScheduler) logger() *slog.Logger { return crm.LoggerOrDefault(s.Logger) }

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *OverdueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger().Info("overdue scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.logger().Info("overdue scheduler started", "interval", s.CheckInterval.String())
}

// Stop stops the scheduler and waits for a running check to finish.
func (s *OverdueScheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger().Info("overdue scheduler stopped")
}

// LastRun returns when the last check finished and how many invoices it found.
func (s *OverdueScheduler) LastRun() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.overdue
}

func (s *OverdueScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.checkOverdue()

	for {
		select {
		case <-ticker.C:
			s.checkOverdue()
		case <-stop:
			return
		}
	}
}

func (s *OverdueScheduler) checkOverdue() {
	ctx := context.Background()
	now := s.Clock.Now()

	overdue, err := s.Invoices.ListOverdue(ctx, now)
	if err != nil {
		s.logger().Error("overdue check failed", "error", err)
		return
	}

	for _, inv := range overdue {
		s.logger().Warn("invoice overdue",
			"invoice_id", inv.ID,
			"invoice_number", inv.InvoiceNumber,
			"customer_id", inv.CustomerID,
			"due_date", inv.DueDate.Format(time.DateOnly),
			"balance", inv.TotalBalance.String(),
			"days_late", int(now.Sub(inv.DueDate).Hours()/24),
		)
	}

	s.mu.Lock()
	s.lastRun, s.overdue = now, len(overdue)
	s.mu.Unlock()

	s.logger().Info("overdue check complete", "overdue", len(overdue))
}

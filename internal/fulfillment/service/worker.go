package service

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired cancellations are checked
const DefaultSweepInterval = time.Hour

// CancellationSweeper completes expired cancellations in the background
type CancellationSweeper struct {
	customers *CustomerService
	interval  time.Duration
	logger    *log.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewCancellationSweeper creates a new cancellation sweeper
func NewCancellationSweeper(customers *CustomerService, interval time.Duration, logger *log.Logger) *CancellationSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &CancellationSweeper{
		customers: customers,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start runs one sweep immediately and then one per interval
func (p *CancellationSweeper) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sweepLoop()
	}()
}

// Stop stops the sweeper
func (p *CancellationSweeper) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *CancellationSweeper) sweepLoop() {
	p.sweep()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopCh:
			return
		}
	}
}

func (p *CancellationSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := p.customers.SweepExpiredCancellations(ctx)
	if err != nil {
		p.logger.Printf("Error sweeping cancellations: %v", err)
	}
	if n > 0 {
		p.logger.Printf("Completed %d cancelled projects past their billing period", n)
	}
}

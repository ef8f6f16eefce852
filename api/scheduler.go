/*
scheduler.go - Background reservation sweep

PURPOSE:
  Stock arrives between shop-floor actions. The scheduler periodically
  retries reservation for every active order that still has an
  unreserved need, so shortages clear without an operator re-requesting.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only touches released and in-progress orders with a positive shortfall
    (drafts have no operations yet)
  - Each order is its own unit of work; one failure does not stop the sweep
  - Never strict: shortages stay reported, not raised

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 5 minutes)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewReservationScheduler(service)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ReserveMaterials endpoint (manual reservation)
  - production/reservation.go: Reservation engine
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/production-engine/production"
)

// ReservationScheduler retries material reservation for open orders.
type ReservationScheduler struct {
	Service       *production.Service
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Orders   int // orders with an unreserved need
	Reserved int // material lines reserved
	Short    int // material lines still short
	Failed   int // orders whose reservation failed
}

// NewReservationScheduler creates a new scheduler.
func NewReservationScheduler(service *production.Service) *ReservationScheduler {
	return &ReservationScheduler{
		Service:       service,
		CheckInterval: 5 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *ReservationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	log.Printf("[Scheduler] Started with check interval: %v", rs.CheckInterval)
}

// Stop stops the scheduler.
func (rs *ReservationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *ReservationScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow(context.Background())

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// RunNow performs one sweep.
func (rs *ReservationScheduler) RunNow(ctx context.Context) SweepResult {
	var res SweepResult

	orders, err := rs.Service.ActiveOrders(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing active orders: %v", err)
		return res
	}

	for _, order := range orders {
		if !hasUnreservedNeed(&order) {
			continue
		}
		res.Orders++

		result, err := rs.Service.ReserveMaterials(ctx, order.ID, production.ReserveOptions{})
		if err != nil {
			log.Printf("[Scheduler] Error reserving for %s: %v", order.Number, err)
			res.Failed++
			continue
		}
		res.Reserved += len(result.Reserved)
		res.Short += len(result.Insufficient)
	}

	if res.Orders > 0 {
		log.Printf("[Scheduler] Sweep: %d orders, %d lines reserved, %d still short, %d failed",
			res.Orders, res.Reserved, res.Short, res.Failed)
	}
	return res
}

func hasUnreservedNeed(order *production.ProductionOrder) bool {
	for _, op := range order.Operations {
		if op.Status.IsTerminal() {
			continue
		}
		for _, m := range op.Materials {
			if !m.CostItem && m.Shortfall().IsPositive() {
				return true
			}
		}
	}
	return false
}

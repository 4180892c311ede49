package engine

import (
	"runtime"
	"testing"
	"time"
)

func TestHighVolumeScheduledOrders(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	acct := newMockAccount()
	s := NewScheduledAccount(acct)

	var initialMemStats runtime.MemStats
	runtime.ReadMemStats(&initialMemStats)

	pairs := placeLoadOrders(t, s)
	placed := s.PendingCount()

	runLoadTicks(t, s, pairs)

	if s.PendingCount() >= placed {
		t.Errorf("Expected some orders to fill or expire, still %d of %d pending", s.PendingCount(), placed)
	}
	if len(acct.trades) == 0 {
		t.Errorf("Expected trades during the load run")
	}

	reportMemoryStats(t, initialMemStats)
}

func placeLoadOrders(t *testing.T, s *ScheduledAccount) []Pair {
	pairs := []Pair{
		NewPair("BTC", "USD"),
		NewPair("ETH", "USD"),
		NewPair("SOL", "USD"),
		NewPair("AVAX", "USD"),
	}
	const basePrice = 100.0

	for i := 0; i < 5000; i++ {
		pair := pairs[i%len(pairs)]
		offset := float64(i%10) / 100
		lifetime := int64(5 + i%50)
		volume := 1.0 + float64(i%10)

		var err error
		switch i % 5 {
		case 0:
			_, err = s.StopLoss(basePrice, volume, basePrice*(1-offset-0.01), pair, lifetime, nil)
		case 1:
			_, err = s.TrailingStopLoss(basePrice, volume, basePrice*(1-offset-0.01), pair, lifetime, i%2 == 0, nil)
		case 2:
			_, err = s.StartBuy(basePrice, volume, basePrice*(1+offset+0.01), pair, lifetime, nil)
		case 3:
			_, err = s.BuyLimit(basePrice, volume, basePrice*(1-offset-0.01), pair, lifetime, nil)
		case 4:
			_, err = s.SellLimit(basePrice, volume, basePrice*(1+offset+0.01), pair, lifetime, nil)
		}
		if err != nil {
			t.Fatalf("placing order %d: %v", i, err)
		}
	}

	t.Logf("Placed %d orders over %d pairs", s.PendingCount(), len(pairs))
	return pairs
}

func runLoadTicks(t *testing.T, s *ScheduledAccount, pairs []Pair) {
	// a swing of +-12% around the base price
	swing := []float64{1.0, 1.03, 1.06, 1.12, 1.05, 0.97, 0.92, 0.88, 0.95, 1.01}

	var (
		totalTickTime time.Duration
		slowestTick   time.Duration
	)
	for tick, factor := range swing {
		update := make(RateUpdate, len(pairs))
		for i, p := range pairs {
			rate := 100.0 * factor
			// every other pair is quoted inverted
			if i%2 == 1 {
				update[p.Inverse()] = 1 / rate
			} else {
				update[p] = rate
			}
		}

		before := s.PendingCount()
		start := time.Now()
		if _, err := s.Tick(update); err != nil {
			t.Fatalf("tick %d: %v", tick+1, err)
		}
		elapsed := time.Since(start)
		totalTickTime += elapsed
		if elapsed > slowestTick {
			slowestTick = elapsed
		}
		t.Logf("Tick %d at factor %.2f took %v, pending %d -> %d", tick+1, factor, elapsed, before, s.PendingCount())
	}

	t.Log("\n=== Performance Summary ===")
	t.Logf("Ticks: %d", len(swing))
	t.Logf("Average tick time: %v", totalTickTime/time.Duration(len(swing)))
	t.Logf("Slowest tick: %v", slowestTick)
	t.Log("=========================")
}

func reportMemoryStats(t *testing.T, initialStats runtime.MemStats) {
	var currentStats runtime.MemStats
	runtime.ReadMemStats(&currentStats)

	memoryDiff := float64(int64(currentStats.Alloc)-int64(initialStats.Alloc)) / 1024 / 1024
	t.Logf("Memory usage difference: %.2f MB", memoryDiff)
	t.Logf("Number of garbage collections: %d", currentStats.NumGC)
}

// README: Concurrency tests for the matching path (run with -race).
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"carpool/internal/types"
)

func TestConcurrentAcceptSameOrder(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	svc := newTestService(store, nil)

	const drivers = 8
	for i := 0; i < drivers; i++ {
		seedDriver(t, store, fmt.Sprintf("d%d", i), 4)
	}

	o, err := svc.Create(ctx, testCreateCommand("p_race", 2))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, drivers)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Accept(ctx, AcceptCommand{
				Actor:   Actor{ID: types.ID(fmt.Sprintf("d%d", n)), Role: types.RoleDriver},
				OrderID: o.ID,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("%d accepts succeeded, want exactly 1", success)
	}

	got, err := store.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusMatched || got.DriverID == nil || got.TripID == nil {
		t.Fatalf("unexpected state after race: %s", got.Status)
	}
	// only the winner's ledger was touched
	if seats := availableSeats(t, store, string(*got.DriverID)); seats != 2 {
		t.Fatalf("winner has %d seats, want 2", seats)
	}
	total := 0
	for i := 0; i < drivers; i++ {
		total += availableSeats(t, store, fmt.Sprintf("d%d", i))
	}
	if total != drivers*4-2 {
		t.Fatalf("ledger sum %d, want %d", total, drivers*4-2)
	}
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedDriver(t, store, "d1", 4)
	svc := newTestService(store, nil)

	o, err := svc.Create(ctx, testCreateCommand("p_accept_cancel", 2))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Accept(ctx, AcceptCommand{
			Actor:   Actor{ID: "d1", Role: types.RoleDriver},
			OrderID: o.ID,
		})
		results <- err
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Cancel(ctx, CancelCommand{
			Actor:   Actor{ID: "p_accept_cancel", Role: types.RolePassenger},
			OrderID: o.ID,
			Reason:  "changed my mind",
		})
		results <- err
	}()

	wg.Wait()
	close(results)

	for err := range results {
		if err != nil && !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := store.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	switch got.Status {
	case StatusMatched:
		if seats := availableSeats(t, store, "d1"); seats != 2 {
			t.Fatalf("matched order but %d seats, want 2", seats)
		}
	case StatusCancelled:
		// either cancel won outright, or it cancelled the already-matched
		// order; both end with the ledger whole
		if seats := availableSeats(t, store, "d1"); seats != 4 {
			t.Fatalf("cancelled order but %d seats, want 4", seats)
		}
	default:
		t.Fatalf("unexpected final status: %s", got.Status)
	}
}

func TestConcurrentConfirmVsSweep(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedDriver(t, store, "d1", 4)
	svc := newTestService(store, nil)

	o, err := svc.Create(ctx, testCreateCommand("p_sweep", 2))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	driver := Actor{ID: "d1", Role: types.RoleDriver}
	if _, err := svc.Accept(ctx, AcceptCommand{Actor: driver, OrderID: o.ID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	backdateMatch(t, store, o.ID, time.Hour)

	var wg sync.WaitGroup
	var confirmErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, confirmErr = svc.Confirm(ctx, LifecycleCommand{Actor: driver, OrderID: o.ID})
	}()
	go func() {
		defer wg.Done()
		if _, err := svc.ExpireStale(ctx, 30*time.Minute); err != nil {
			t.Errorf("expire: %v", err)
		}
	}()
	wg.Wait()

	got, err := store.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	trip, err := store.GetTripByOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	switch got.Status {
	case StatusConfirmed:
		if confirmErr != nil {
			t.Fatalf("order confirmed but confirm returned %v", confirmErr)
		}
		if trip.Status != TripOngoing {
			t.Fatalf("confirmed order with trip %s", trip.Status)
		}
		if seats := availableSeats(t, store, "d1"); seats != 2 {
			t.Fatalf("confirmed but %d seats, want 2", seats)
		}
	case StatusCancelled:
		if confirmErr == nil {
			t.Fatalf("order cancelled but confirm also succeeded")
		}
		if trip.Status != TripCancelled {
			t.Fatalf("cancelled order with trip %s", trip.Status)
		}
		if seats := availableSeats(t, store, "d1"); seats != 4 {
			t.Fatalf("cancelled but %d seats, want 4", seats)
		}
	default:
		t.Fatalf("unexpected final status: %s", got.Status)
	}
}

func TestSeatExhaustion(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedDriver(t, store, "d1", 3)
	svc := newTestService(store, nil)

	driver := Actor{ID: "d1", Role: types.RoleDriver}

	first, err := svc.Create(ctx, testCreateCommand("p_a", 2))
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := svc.Accept(ctx, AcceptCommand{Actor: driver, OrderID: first.ID}); err != nil {
		t.Fatalf("accept first: %v", err)
	}

	second, err := svc.Create(ctx, testCreateCommand("p_b", 2))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if _, err := svc.Accept(ctx, AcceptCommand{Actor: driver, OrderID: second.ID}); !errors.Is(err, ErrNoSeats) {
		t.Fatalf("accept beyond capacity: got %v, want ErrNoSeats", err)
	}

	// the failed accept consumed nothing and left the order claimable
	got, err := store.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.TripID != nil {
		t.Fatalf("order after failed accept: %s", got.Status)
	}
	if seats := availableSeats(t, store, "d1"); seats != 1 {
		t.Fatalf("%d seats after failed accept, want 1", seats)
	}
}

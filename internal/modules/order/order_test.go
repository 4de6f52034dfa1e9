// README: Lifecycle tests against a real database (flow + invalid requests).
package order

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

type fakeRefunder struct {
	err   error
	calls int
}

func (f *fakeRefunder) Refund(ctx context.Context, orderID types.ID, amount float64) error {
	f.calls++
	return f.err
}

type broadcastCall struct {
	group string
	event string
}

type fakeNotifier struct {
	notices    []Notice
	broadcasts []broadcastCall
}

func (f *fakeNotifier) Notify(_ context.Context, n Notice) {
	f.notices = append(f.notices, n)
}

func (f *fakeNotifier) Broadcast(_ context.Context, group, event string, _ types.ID) {
	f.broadcasts = append(f.broadcasts, broadcastCall{group: group, event: event})
}

func (f *fakeNotifier) broadcastTo(group, event string) bool {
	for _, b := range f.broadcasts {
		if b.group == group && b.event == event {
			return true
		}
	}
	return false
}

func newTestService(store *Store, refunder Refunder) *Service {
	if refunder == nil {
		refunder = &fakeRefunder{}
	}
	return NewService(store, nil, nil, refunder, nil)
}

func testCreateCommand(passenger types.ID, seats int) CreateCommand {
	return CreateCommand{
		Actor:         Actor{ID: passenger, Role: types.RolePassenger},
		SeatCount:     seats,
		TotalPrice:    120,
		StartAddress:  "No. 7, Roosevelt Rd",
		EndAddress:    "Taoyuan Airport T2",
		StartPoint:    types.Point{Lng: 121.565, Lat: 25.033},
		EndPoint:      types.Point{Lng: 121.2328, Lat: 25.0797},
		StartTime:     time.Now().Add(2 * time.Hour),
		EstimatedMins: 45,
		DistanceKm:    38.2,
	}
}

func TestOrderLifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedDriver(t, store, "d1", 4)
	svc := newTestService(store, nil)

	o, err := svc.Create(ctx, testCreateCommand("p1", 2))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Status != StatusPending || o.PaymentStatus != PaymentUnpaid {
		t.Fatalf("unexpected initial state: %s/%s", o.Status, o.PaymentStatus)
	}
	if !strings.Contains(o.OrderNumber, time.Now().Format("20060102")) {
		t.Fatalf("order number %q missing date", o.OrderNumber)
	}

	driver := Actor{ID: "d1", Role: types.RoleDriver}
	trip, err := svc.Accept(ctx, AcceptCommand{Actor: driver, OrderID: o.ID})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if trip.Seats != 2 || trip.Status != TripCreated {
		t.Fatalf("unexpected trip: %d seats, %s", trip.Seats, trip.Status)
	}
	if got := availableSeats(t, store, "d1"); got != 2 {
		t.Fatalf("after accept: %d seats available, want 2", got)
	}

	if _, err := svc.Confirm(ctx, LifecycleCommand{Actor: driver, OrderID: o.ID}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	trip2, err := svc.Complete(ctx, LifecycleCommand{Actor: driver, OrderID: o.ID})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if trip2.Status != TripCompleted || trip2.EndTime == nil {
		t.Fatalf("unexpected trip after complete: %s", trip2.Status)
	}
	if got := availableSeats(t, store, "d1"); got != 4 {
		t.Fatalf("after complete: %d seats available, want 4", got)
	}

	passenger := Actor{ID: "p1", Role: types.RolePassenger}
	paid, err := svc.Pay(ctx, PayCommand{Actor: passenger, OrderID: o.ID, To: PaymentPaid})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if paid.PaymentStatus != PaymentPaid || paid.PaymentTime == nil {
		t.Fatalf("unexpected payment state: %s", paid.PaymentStatus)
	}
}

func TestCreateBroadcastsToDriversAndAdmins(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	notifier := &fakeNotifier{}
	svc := NewService(store, nil, notifier, nil, nil)

	o, err := svc.Create(ctx, testCreateCommand("p1", 2))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !notifier.broadcastTo(GroupDrivers, EventNewOrder) {
		t.Fatalf("new order not broadcast to driver pool")
	}
	if !notifier.broadcastTo(GroupAdmins, EventNewOrder) {
		t.Fatalf("new order not broadcast to admins")
	}
	if n := len(notifier.notices); n != 1 || notifier.notices[0].Recipient != o.PassengerID {
		t.Fatalf("passenger notice missing, got %d notices", n)
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	svc := newTestService(store, nil)

	cmd := testCreateCommand("p1", 0)
	if _, err := svc.Create(ctx, cmd); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("zero seats: got %v, want ErrBadRequest", err)
	}
	cmd = testCreateCommand("p1", MaxSeats+1)
	if _, err := svc.Create(ctx, cmd); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("too many seats: got %v, want ErrBadRequest", err)
	}
	cmd = testCreateCommand("p1", 2)
	cmd.StartAddress = ""
	if _, err := svc.Create(ctx, cmd); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("empty address: got %v, want ErrBadRequest", err)
	}
	cmd = testCreateCommand("p1", 2)
	cmd.TotalPrice = -1
	if _, err := svc.Create(ctx, cmd); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("negative price: got %v, want ErrBadRequest", err)
	}

	if _, err := svc.Create(ctx, testCreateCommand("p1", 2)); err != nil {
		t.Fatalf("create: %v", err)
	}
	// one active order per passenger
	if _, err := svc.Create(ctx, testCreateCommand("p1", 1)); !errors.Is(err, ErrActiveOrder) {
		t.Fatalf("second active order: got %v, want ErrActiveOrder", err)
	}
}

func TestCancelPendingLeavesNoTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	svc := newTestService(store, nil)

	passenger := Actor{ID: "p1", Role: types.RolePassenger}
	o, err := svc.Create(ctx, testCreateCommand("p1", 2))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Cancel(ctx, CancelCommand{Actor: passenger, OrderID: o.ID}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("cancel without reason: got %v, want ErrBadRequest", err)
	}

	cancelled, err := svc.Cancel(ctx, CancelCommand{Actor: passenger, OrderID: o.ID, Reason: "plans changed"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancelReason == nil {
		t.Fatalf("unexpected state after cancel: %s", cancelled.Status)
	}
	if _, err := store.GetTripByOrder(ctx, o.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pending cancel must not create a trip, got %v", err)
	}

	// terminal: nothing moves it again, not even an admin
	admin := Actor{ID: "a1", Role: types.RoleAdmin}
	if _, err := svc.Cancel(ctx, CancelCommand{Actor: admin, OrderID: o.ID, Reason: "again"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("re-cancel terminal order: got %v, want ErrConflict", err)
	}
}

func TestCancelMatchedRestoresSeats(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedDriver(t, store, "d1", 4)
	svc := newTestService(store, nil)

	o, err := svc.Create(ctx, testCreateCommand("p1", 3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	driver := Actor{ID: "d1", Role: types.RoleDriver}
	if _, err := svc.Accept(ctx, AcceptCommand{Actor: driver, OrderID: o.ID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := availableSeats(t, store, "d1"); got != 1 {
		t.Fatalf("after accept: %d seats, want 1", got)
	}

	passenger := Actor{ID: "p1", Role: types.RolePassenger}
	if _, err := svc.Cancel(ctx, CancelCommand{Actor: passenger, OrderID: o.ID, Reason: "no longer needed"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := availableSeats(t, store, "d1"); got != 4 {
		t.Fatalf("after cancel: %d seats, want 4", got)
	}
	trip, err := store.GetTripByOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if trip.Status != TripCancelled || trip.CanceledTime == nil {
		t.Fatalf("unexpected trip state: %s", trip.Status)
	}
}

func TestPaymentGates(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedDriver(t, store, "d1", 4)
	svc := newTestService(store, nil)

	o, err := svc.Create(ctx, testCreateCommand("p1", 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	passenger := Actor{ID: "p1", Role: types.RolePassenger}

	// no payment before completion
	if _, err := svc.Pay(ctx, PayCommand{Actor: passenger, OrderID: o.ID, To: PaymentPaid}); !errors.Is(err, ErrConflict) {
		t.Fatalf("pay pending order: got %v, want ErrConflict", err)
	}

	driver := Actor{ID: "d1", Role: types.RoleDriver}
	mustLifecycle(t, svc, driver, o.ID)

	// refund before paid is invalid
	if _, err := svc.Pay(ctx, PayCommand{Actor: passenger, OrderID: o.ID, To: PaymentRefunded}); !errors.Is(err, ErrConflict) {
		t.Fatalf("refund unpaid order: got %v, want ErrConflict", err)
	}
	if _, err := svc.Pay(ctx, PayCommand{Actor: passenger, OrderID: o.ID, To: PaymentPaid}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	// double pay is invalid
	if _, err := svc.Pay(ctx, PayCommand{Actor: passenger, OrderID: o.ID, To: PaymentPaid}); !errors.Is(err, ErrConflict) {
		t.Fatalf("double pay: got %v, want ErrConflict", err)
	}
}

func TestRefundFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedDriver(t, store, "d1", 4)
	refunder := &fakeRefunder{err: errors.New("processor down")}
	svc := newTestService(store, refunder)

	o, err := svc.Create(ctx, testCreateCommand("p1", 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	driver := Actor{ID: "d1", Role: types.RoleDriver}
	mustLifecycle(t, svc, driver, o.ID)

	passenger := Actor{ID: "p1", Role: types.RolePassenger}
	if _, err := svc.Pay(ctx, PayCommand{Actor: passenger, OrderID: o.ID, To: PaymentPaid}); err != nil {
		t.Fatalf("pay: %v", err)
	}

	if _, err := svc.Pay(ctx, PayCommand{Actor: passenger, OrderID: o.ID, To: PaymentRefunded}); !errors.Is(err, ErrRefundFailed) {
		t.Fatalf("refund with broken processor: got %v, want ErrRefundFailed", err)
	}
	if refunder.calls != 1 {
		t.Fatalf("refunder called %d times, want 1", refunder.calls)
	}
	got, err := svc.Get(ctx, Actor{ID: "a1", Role: types.RoleAdmin}, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PaymentStatus != PaymentPaid {
		t.Fatalf("payment status changed to %s after failed refund", got.PaymentStatus)
	}

	// processor recovers, retry succeeds
	refunder.err = nil
	refunded, err := svc.Pay(ctx, PayCommand{Actor: passenger, OrderID: o.ID, To: PaymentRefunded})
	if err != nil {
		t.Fatalf("retry refund: %v", err)
	}
	if refunded.PaymentStatus != PaymentRefunded {
		t.Fatalf("expected refunded, got %s", refunded.PaymentStatus)
	}
}

func TestExpireStaleCancelsTimedOutMatches(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedDriver(t, store, "d1", 4)
	svc := newTestService(store, nil)

	o, err := svc.Create(ctx, testCreateCommand("p1", 2))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	driver := Actor{ID: "d1", Role: types.RoleDriver}
	if _, err := svc.Accept(ctx, AcceptCommand{Actor: driver, OrderID: o.ID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	backdateMatch(t, store, o.ID, time.Hour)

	expired, err := svc.ExpireStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired %d orders, want 1", expired)
	}
	got, err := store.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("stale order status %s, want cancelled", got.Status)
	}
	if seats := availableSeats(t, store, "d1"); seats != 4 {
		t.Fatalf("after expire: %d seats, want 4", seats)
	}

	// idempotent: a second sweep finds nothing
	expired, err = svc.ExpireStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if expired != 0 {
		t.Fatalf("second sweep expired %d orders, want 0", expired)
	}
}

func TestConfirmedOrderSurvivesSweep(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedDriver(t, store, "d1", 4)
	svc := newTestService(store, nil)

	o, err := svc.Create(ctx, testCreateCommand("p1", 2))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	driver := Actor{ID: "d1", Role: types.RoleDriver}
	if _, err := svc.Accept(ctx, AcceptCommand{Actor: driver, OrderID: o.ID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	backdateMatch(t, store, o.ID, time.Hour)
	if _, err := svc.Confirm(ctx, LifecycleCommand{Actor: driver, OrderID: o.ID}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	expired, err := svc.ExpireStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 0 {
		t.Fatalf("sweep expired %d confirmed orders, want 0", expired)
	}
	got, _ := store.Get(ctx, o.ID)
	if got.Status != StatusConfirmed {
		t.Fatalf("confirmed order status %s after sweep", got.Status)
	}
}

func mustLifecycle(t *testing.T, svc *Service, driver Actor, orderID types.ID) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.Accept(ctx, AcceptCommand{Actor: driver, OrderID: orderID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Confirm(ctx, LifecycleCommand{Actor: driver, OrderID: orderID}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.Complete(ctx, LifecycleCommand{Actor: driver, OrderID: orderID}); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func availableSeats(t *testing.T, store *Store, driverID string) int {
	t.Helper()
	var seats int
	err := store.db.QueryRow(context.Background(),
		`SELECT available_seats FROM drivers WHERE id = $1`, driverID).Scan(&seats)
	if err != nil {
		t.Fatalf("query seats: %v", err)
	}
	return seats
}

func backdateMatch(t *testing.T, store *Store, orderID types.ID, by time.Duration) {
	t.Helper()
	_, err := store.db.Exec(context.Background(),
		`UPDATE orders SET matched_at = matched_at - $1::interval WHERE id = $2`,
		fmt.Sprintf("%d seconds", int(by.Seconds())), string(orderID))
	if err != nil {
		t.Fatalf("backdate match: %v", err)
	}
}

func seedDriver(t *testing.T, store *Store, id string, seats int) {
	t.Helper()
	_, err := store.db.Exec(context.Background(), `
		INSERT INTO drivers (id, name, total_seats, available_seats)
		VALUES ($1, $2, $3, $3)`, id, "driver "+id, seats)
	if err != nil {
		t.Fatalf("seed driver: %v", err)
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("CARPOOL_TEST_DSN")
	if dsn == "" {
		t.Skip("CARPOOL_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE audit_log, reviews, notifications, trips, orders, drivers"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewStore(db)
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	cleaned := stripSQLComments(string(content))
	for _, stmt := range splitSQL(cleaned) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

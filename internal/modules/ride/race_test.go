// README: Concurrency tests for ride state transitions (run with -race).
package ride

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ridelink/internal/types"
)

func TestConcurrentAcceptSameRide(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ride := env.request(t, "rider1")

	const attempts = 8
	sessions := make([]*Session, attempts)
	for i := range sessions {
		sessions[i] = env.driver(types.ID(fmt.Sprintf("d%d", i)))
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, attempts)
	winners := make(chan types.ID, attempts)
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			<-start
			if _, err := env.svc.Accept(ctx, sess, ride.ID); err != nil {
				errs <- err
				return
			}
			winners <- sess.ActorID
		}(sess)
	}
	close(start)
	wg.Wait()
	close(errs)
	close(winners)

	for err := range errs {
		if !errors.Is(err, types.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly 1 success, got %d", len(winners))
	}
	winner := <-winners

	r, err := env.svc.Get(ctx, ride.ID)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	if r.Status != StatusAccepted {
		t.Fatalf("unexpected final status: %s", r.Status)
	}
	if r.DriverID != winner {
		t.Fatalf("driverId %s does not match winner %s", r.DriverID, winner)
	}
	for _, sess := range sessions {
		id, active := sess.ActiveRide()
		if sess.ActorID == winner {
			if !active || id != ride.ID {
				t.Fatalf("winner session not holding the ride")
			}
			continue
		}
		if active {
			t.Fatalf("losing driver %s still has an active ride", sess.ActorID)
		}
	}
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ride := env.request(t, "rider1")
	driver := env.driver("d1")

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, err := env.svc.Accept(ctx, driver, ride.ID)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		<-start
		_, err := env.svc.Cancel(ctx, env.rider("rider1"), ride.ID, "changed plans")
		errs <- err
	}()
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, types.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success < 1 || success > 2 {
		t.Fatalf("expected 1 or 2 successes, got %d", success)
	}

	r, err := env.svc.Get(ctx, ride.ID)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	if success == 2 && r.Status != StatusCancelled {
		t.Fatalf("expected cancelled after accept+cancel, got %s", r.Status)
	}
	if r.Status != StatusAccepted && r.Status != StatusCancelled {
		t.Fatalf("unexpected final status: %s", r.Status)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("final record invalid: %v", err)
	}
}

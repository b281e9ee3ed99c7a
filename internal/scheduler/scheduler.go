// Package scheduler runs the periodic reconciliation: it advances time-based
// request transitions and converges every lamp's physical state onto the
// state rule's answer.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"doorlamp-backend/config"
	"doorlamp-backend/internal/model"
	"doorlamp-backend/internal/registry"
	"doorlamp-backend/internal/staterule"
	"doorlamp-backend/internal/store"
)

// Service orchestrates the reconciliation loop.
type Service struct {
	cfg      *config.Config
	store    store.Store
	registry *registry.Registry
	grace    staterule.Grace
	now      func() time.Time

	locMu sync.Mutex
	locs  map[string]*time.Location
}

// NewService creates a scheduler over the given store and device registry.
func NewService(cfg *config.Config, s store.Store, reg *registry.Registry) *Service {
	return &Service{
		cfg:      cfg,
		store:    s,
		registry: reg,
		grace: staterule.Grace{
			Before: time.Duration(cfg.Scheduler.GraceBeforeMinutes) * time.Minute,
			After:  time.Duration(cfg.Scheduler.GraceAfterMinutes) * time.Minute,
		},
		now:  time.Now,
		locs: make(map[string]*time.Location),
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Run starts the reconciliation loop. Each tick runs to completion before the
// timer is re-armed, so ticks never overlap.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Scheduler.Enabled {
		log.Println("Scheduler is disabled. Not starting.")
		return
	}
	log.Println("Starting reconciliation scheduler...")

	s.RunOnce(ctx)

	timer := time.NewTimer(s.cfg.Scheduler.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciliation scheduler shutting down.")
			return
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(s.cfg.Scheduler.Interval)
		}
	}
}

// RunOnce performs a single reconciliation pass: expire overdue Pending
// requests, auto-close lapsed approvals, then converge every active lamp.
// A failure on one lamp is logged and never aborts the rest of the pass.
func (s *Service) RunOnce(ctx context.Context) {
	now := s.now().UTC()

	if n, err := s.store.SweepTimeouts(ctx, now); err != nil {
		log.Printf("Error sweeping request timeouts: %v", err)
	} else if n > 0 {
		log.Printf("Timed out %d unanswered requests", n)
	}

	if n, err := s.store.SweepAutoClose(ctx, now); err != nil {
		log.Printf("Error sweeping expired approvals: %v", err)
	} else if n > 0 {
		log.Printf("Auto-closed %d expired approvals", n)
	}

	lamps, err := s.store.ListActiveLamps(ctx)
	if err != nil {
		log.Printf("Error listing active lamps: %v", err)
		return
	}

	grants, err := s.store.ActiveGrantLampIDs(ctx, now)
	if err != nil {
		log.Printf("Error listing active grants: %v", err)
		return
	}

	for i := range lamps {
		lamp := &lamps[i]
		_, hasGrant := grants[lamp.ID]
		if err := s.reconcile(ctx, lamp, hasGrant, now); err != nil {
			log.Printf("Error reconciling lamp %d (%s): %v", lamp.ID, lamp.DeviceID, err)
		}
	}
}

// ReconcileLamp is the single-lamp variant used by the approval/decline and
// override paths: no sweeps, one desired-state evaluation, one diff push.
func (s *Service) ReconcileLamp(ctx context.Context, lampID int64) error {
	now := s.now().UTC()

	lamp, err := s.store.GetLamp(ctx, lampID)
	if err != nil {
		return fmt.Errorf("failed to load lamp %d: %w", lampID, err)
	}

	hasGrant, err := s.store.HasActiveGrant(ctx, lampID, now)
	if err != nil {
		return fmt.Errorf("failed to check grants for lamp %d: %w", lampID, err)
	}

	return s.reconcile(ctx, lamp, hasGrant, now)
}

// SyncDevice pushes the current desired state to a freshly connected device,
// unconditionally, so it converges without waiting for the next tick.
func (s *Service) SyncDevice(ctx context.Context, deviceID string) error {
	now := s.now().UTC()

	lamp, err := s.store.GetLampByDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("failed to load lamp for device %s: %w", deviceID, err)
	}

	hasGrant, err := s.store.HasActiveGrant(ctx, lamp.ID, now)
	if err != nil {
		return fmt.Errorf("failed to check grants for lamp %d: %w", lamp.ID, err)
	}

	desired := staterule.Desired(lamp, lamp.Schedule, hasGrant, s.branchTime(&lamp.Branch, now), s.grace)

	if desired != lamp.CurrentState {
		if _, err := s.store.SetLampState(ctx, lamp.ID, desired, now); err != nil {
			return fmt.Errorf("failed to persist state for lamp %d: %w", lamp.ID, err)
		}
	}

	if !s.registry.Send(ctx, deviceID, registry.StateCommand(desired)) {
		log.Printf("Device %s went offline before resync", deviceID)
	}
	return nil
}

// reconcile converges one lamp. The state row is flipped with a conditional
// update; only the caller that actually flipped it pushes the command, so a
// tick racing an approval trigger cannot double-send.
func (s *Service) reconcile(ctx context.Context, lamp *model.Lamp, hasGrant bool, now time.Time) error {
	localNow := s.branchTime(&lamp.Branch, now)
	desired := staterule.Desired(lamp, lamp.Schedule, hasGrant, localNow, s.grace)

	if desired == lamp.CurrentState {
		return nil
	}

	changed, err := s.store.SetLampState(ctx, lamp.ID, desired, now)
	if err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	if !changed {
		// A concurrent reconciliation already applied this transition.
		return nil
	}

	// Delivery to an offline device is not an error; the device resyncs on
	// its next connect.
	if !s.registry.Send(ctx, lamp.DeviceID, registry.StateCommand(desired)) {
		log.Printf("Lamp %d (%s) is offline; state %v recorded for resync", lamp.ID, lamp.DeviceID, desired)
	}
	return nil
}

// branchTime converts a UTC instant to the branch's local wall clock. Unknown
// timezone names fall back to the configured default, then to UTC.
func (s *Service) branchTime(branch *model.Branch, now time.Time) time.Time {
	name := branch.Timezone
	if name == "" {
		name = s.cfg.Scheduler.DefaultTimezone
	}

	s.locMu.Lock()
	loc, ok := s.locs[name]
	s.locMu.Unlock()
	if ok {
		return now.In(loc)
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("Warning: invalid timezone %q for branch %d: %v. Using UTC.", name, branch.ID, err)
		loc = time.UTC
	}

	s.locMu.Lock()
	s.locs[name] = loc
	s.locMu.Unlock()
	return now.In(loc)
}

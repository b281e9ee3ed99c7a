// Package workflow implements the access-request lifecycle: submission,
// approval, decline, and the reads over pending and historical requests.
// Status transitions are compare-and-swap guarded in the store so that at
// most one of {approve, decline, timeout} ever succeeds for a request.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"doorlamp-backend/internal/model"
	"doorlamp-backend/internal/store"
)

// maxReasonLen bounds the free-text fields on a request.
const maxReasonLen = 512

// Reconciler pushes the recomputed state of a single lamp to its device.
// Satisfied by the scheduler.
type Reconciler interface {
	ReconcileLamp(ctx context.Context, lampID int64) error
}

// Notifier delivers a payload to a set of users, fire-and-forget.
// Satisfied by the notification worker pool.
type Notifier interface {
	Notify(userIDs []int64, payload []byte)
}

// Service is the sole mutator of access-request status fields.
type Service struct {
	store          store.Store
	notifier       Notifier
	reconciler     Reconciler
	requestTimeout time.Duration
	approvalWindow time.Duration
	now            func() time.Time
}

// New creates the workflow service. requestTimeout is the window a Pending
// request stays open; approvalWindow is how long an approval keeps the lamp on.
func New(s store.Store, notifier Notifier, reconciler Reconciler, requestTimeout, approvalWindow time.Duration) *Service {
	return &Service{
		store:          s,
		notifier:       notifier,
		reconciler:     reconciler,
		requestTimeout: requestTimeout,
		approvalWindow: approvalWindow,
		now:            time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// requestNotification is the payload pushed to approvers on submission.
type requestNotification struct {
	Type        string `json:"type"`
	RequestID   int64  `json:"request_id"`
	LampID      int64  `json:"lamp_id"`
	LampName    string `json:"lamp_name"`
	RequesterID int64  `json:"requester_id"`
	Reason      string `json:"reason,omitempty"`
}

// Submit creates a Pending request for the given lamp and notifies every
// approver in the lamp's branch scope.
func (s *Service) Submit(ctx context.Context, userID, lampID int64, reason string) (*model.AccessRequest, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLen {
		return nil, fmt.Errorf("%w: reason exceeds %d characters", ErrInvalid, maxReasonLen)
	}

	lamp, err := s.store.GetLamp(ctx, lampID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: lamp %d", ErrNotFound, lampID)
		}
		return nil, fmt.Errorf("failed to load lamp %d: %w", lampID, err)
	}
	if !lamp.Active {
		return nil, fmt.Errorf("%w: lamp %d is deactivated", ErrNotFound, lampID)
	}

	now := s.now().UTC()
	req := &model.AccessRequest{
		LampID:      lampID,
		RequesterID: userID,
		Reason:      reason,
		Status:      model.RequestPending,
		TimeoutAt:   now.Add(s.requestTimeout),
		CreatedAt:   now,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	s.notifyApprovers(ctx, req, lamp)
	return req, nil
}

func (s *Service) notifyApprovers(ctx context.Context, req *model.AccessRequest, lamp *model.Lamp) {
	recipients, err := s.store.ApproverIDsFor(ctx, lamp.BranchID)
	if err != nil {
		log.Printf("Error computing approvers for branch %d: %v", lamp.BranchID, err)
		return
	}
	if len(recipients) == 0 {
		log.Printf("Warning: no approvers configured for branch %d; request %d will time out unanswered", lamp.BranchID, req.ID)
		return
	}

	payload, err := json.Marshal(requestNotification{
		Type:        "access_request",
		RequestID:   req.ID,
		LampID:      lamp.ID,
		LampName:    lamp.DisplayName,
		RequesterID: req.RequesterID,
		Reason:      req.Reason,
	})
	if err != nil {
		log.Printf("Error marshaling notification for request %d: %v", req.ID, err)
		return
	}
	s.notifier.Notify(recipients, payload)
}

// Approve transitions a Pending request to Approved, fixing its approval
// window, and immediately reconciles the affected lamp.
func (s *Service) Approve(ctx context.Context, requestID, responderID int64, notes string) error {
	return s.respond(ctx, requestID, responderID, model.RequestApproved, notes)
}

// Decline transitions a Pending request to Declined.
func (s *Service) Decline(ctx context.Context, requestID, responderID int64, notes string) error {
	return s.respond(ctx, requestID, responderID, model.RequestDeclined, notes)
}

func (s *Service) respond(ctx context.Context, requestID, responderID int64, status model.RequestStatus, notes string) error {
	notes = strings.TrimSpace(notes)
	if len(notes) > maxReasonLen {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalid, maxReasonLen)
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: request %d", ErrNotFound, requestID)
		}
		return fmt.Errorf("failed to load request %d: %w", requestID, err)
	}

	ok, err := s.store.IsApproverFor(ctx, responderID, req.Lamp.BranchID)
	if err != nil {
		return fmt.Errorf("failed to check approver standing: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: user %d, branch %d", ErrForbidden, responderID, req.Lamp.BranchID)
	}

	now := s.now().UTC()
	var approvedUntil *time.Time
	if status == model.RequestApproved {
		until := now.Add(s.approvalWindow)
		approvedUntil = &until
	}

	swapped, err := s.store.RespondRequest(ctx, requestID, status, responderID, notes, now, approvedUntil)
	if err != nil {
		return fmt.Errorf("failed to update request %d: %w", requestID, err)
	}
	if !swapped {
		return fmt.Errorf("%w: request %d", ErrConflict, requestID)
	}

	// Push the physical effect without waiting for the next tick. Delivery
	// failure is routine (device offline) and never fails the response.
	if err := s.reconciler.ReconcileLamp(ctx, req.LampID); err != nil {
		log.Printf("Error reconciling lamp %d after response to request %d: %v", req.LampID, requestID, err)
	}
	return nil
}

// ListPendingFor returns the Pending requests visible to a user: branch-scoped
// for approvers, the user's own submissions otherwise.
func (s *Service) ListPendingFor(ctx context.Context, userID int64) ([]model.AccessRequest, error) {
	allBranches, branchIDs, err := s.store.ApproverScope(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approver scope: %w", err)
	}
	if allBranches || len(branchIDs) > 0 {
		return s.store.ListPendingForBranches(ctx, branchIDs, allBranches)
	}
	return s.store.ListPendingByRequester(ctx, userID)
}

// ListHistory returns requests in the user's visibility scope, optionally
// bounded by creation time.
func (s *Service) ListHistory(ctx context.Context, userID int64, from, to *time.Time) ([]model.AccessRequest, error) {
	allBranches, branchIDs, err := s.store.ApproverScope(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approver scope: %w", err)
	}

	filter := store.HistoryFilter{From: from, To: to}
	if allBranches {
		filter.AllBranches = true
	} else if len(branchIDs) > 0 {
		filter.BranchIDs = branchIDs
	} else {
		filter.RequesterID = &userID
	}
	return s.store.ListHistory(ctx, filter)
}

// Get returns a single request if the caller submitted it or approves for
// its branch.
func (s *Service) Get(ctx context.Context, requestID, userID int64) (*model.AccessRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: request %d", ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("failed to load request %d: %w", requestID, err)
	}
	if req.RequesterID == userID {
		return req, nil
	}
	ok, err := s.store.IsApproverFor(ctx, userID, req.Lamp.BranchID)
	if err != nil {
		return nil, fmt.Errorf("failed to check approver standing: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: request %d", ErrForbidden, requestID)
	}
	return req, nil
}

// RecipientsFor returns the deduplicated user ids eligible to respond for a
// branch.
func (s *Service) RecipientsFor(ctx context.Context, branchID int64) ([]int64, error) {
	return s.store.ApproverIDsFor(ctx, branchID)
}

package store

import (
	"context"
	"time"

	"doorlamp-backend/internal/model"
)

func (s *gormStore) CreateRequest(ctx context.Context, req *model.AccessRequest) error {
	return s.db.WithContext(ctx).Create(req).Error
}

func (s *gormStore) GetRequest(ctx context.Context, id int64) (*model.AccessRequest, error) {
	var req model.AccessRequest
	if err := s.db.WithContext(ctx).
		Preload("Lamp").
		First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// RespondRequest performs the Pending -> Approved/Declined transition as a
// compare-and-swap: the update only applies while the row is still Pending.
// A false return means someone else (another approver or the timeout sweep)
// got there first.
func (s *gormStore) RespondRequest(ctx context.Context, id int64, status model.RequestStatus, responderID int64, notes string, at time.Time, approvedUntil *time.Time) (bool, error) {
	updates := map[string]any{
		"status":         status,
		"responder_id":   responderID,
		"responded_at":   at,
		"response_notes": notes,
	}
	if approvedUntil != nil {
		updates["approved_until"] = *approvedUntil
	}

	res := s.db.WithContext(ctx).Model(&model.AccessRequest{}).
		Where("id = ? AND status = ?", id, model.RequestPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SweepTimeouts expires every Pending request whose deadline has passed. The
// status guard in the WHERE clause makes the sweep race-safe against a
// response committing in the same instant, and idempotent across ticks.
func (s *gormStore) SweepTimeouts(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.AccessRequest{}).
		Where("status = ? AND timeout_at <= ?", model.RequestPending, now).
		Update("status", model.RequestTimeout)
	return res.RowsAffected, res.Error
}

// SweepAutoClose closes every Approved grant whose approval window has ended.
func (s *gormStore) SweepAutoClose(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.AccessRequest{}).
		Where("status = ? AND is_auto_closed = ? AND approved_until <= ?",
			model.RequestApproved, false, now).
		Updates(map[string]any{
			"is_auto_closed": true,
			"auto_closed_at": now,
		})
	return res.RowsAffected, res.Error
}

func (s *gormStore) HasActiveGrant(ctx context.Context, lampID int64, now time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.AccessRequest{}).
		Where("lamp_id = ? AND status = ? AND is_auto_closed = ? AND approved_until > ?",
			lampID, model.RequestApproved, false, now).
		Count(&count).Error
	return count > 0, err
}

// ActiveGrantLampIDs returns the set of lamps holding at least one active
// grant, fetched in one query for the full reconciliation pass.
func (s *gormStore) ActiveGrantLampIDs(ctx context.Context, now time.Time) (map[int64]struct{}, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&model.AccessRequest{}).
		Distinct("lamp_id").
		Where("status = ? AND is_auto_closed = ? AND approved_until > ?",
			model.RequestApproved, false, now).
		Pluck("lamp_id", &ids).Error
	if err != nil {
		return nil, err
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (s *gormStore) ListPendingForBranches(ctx context.Context, branchIDs []int64, allBranches bool) ([]model.AccessRequest, error) {
	q := s.db.WithContext(ctx).Model(&model.AccessRequest{}).
		Preload("Lamp").
		Joins("JOIN lamps ON lamps.id = access_requests.lamp_id").
		Where("access_requests.status = ?", model.RequestPending)
	if !allBranches {
		if len(branchIDs) == 0 {
			return nil, nil
		}
		q = q.Where("lamps.branch_id IN ?", branchIDs)
	}

	var reqs []model.AccessRequest
	if err := q.Order("access_requests.created_at").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (s *gormStore) ListPendingByRequester(ctx context.Context, userID int64) ([]model.AccessRequest, error) {
	var reqs []model.AccessRequest
	if err := s.db.WithContext(ctx).
		Preload("Lamp").
		Where("requester_id = ? AND status = ?", userID, model.RequestPending).
		Order("created_at").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (s *gormStore) ListHistory(ctx context.Context, filter HistoryFilter) ([]model.AccessRequest, error) {
	q := s.db.WithContext(ctx).Model(&model.AccessRequest{}).Preload("Lamp")

	switch {
	case filter.RequesterID != nil:
		q = q.Where("requester_id = ?", *filter.RequesterID)
	case filter.AllBranches:
		// no scope restriction
	default:
		if len(filter.BranchIDs) == 0 {
			return nil, nil
		}
		q = q.Joins("JOIN lamps ON lamps.id = access_requests.lamp_id").
			Where("lamps.branch_id IN ?", filter.BranchIDs)
	}

	if filter.From != nil {
		q = q.Where("access_requests.created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("access_requests.created_at <= ?", *filter.To)
	}

	var reqs []model.AccessRequest
	if err := q.Order("access_requests.created_at DESC").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

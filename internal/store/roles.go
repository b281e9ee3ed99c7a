package store

import (
	"context"

	"doorlamp-backend/internal/model"
)

// elevatedRoles hold approval rights across every branch.
var elevatedRoles = []string{model.RoleAdmin, model.RoleSecurity}

// IsApproverFor reports whether the user may respond to requests for lamps
// of the given branch: branch manager, or holder of an elevated role.
func (s *gormStore) IsApproverFor(ctx context.Context, userID, branchID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.UserRole{}).
		Where("user_id = ?", userID).
		Where("(role = ? AND branch_id = ?) OR role IN ?", model.RoleManager, branchID, elevatedRoles).
		Count(&count).Error
	return count > 0, err
}

// ApproverIDsFor returns the deduplicated ids of every user eligible to
// respond for a branch: its managers plus all elevated-role holders.
func (s *gormStore) ApproverIDsFor(ctx context.Context, branchID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&model.UserRole{}).
		Distinct("user_id").
		Where("(role = ? AND branch_id = ?) OR role IN ?", model.RoleManager, branchID, elevatedRoles).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ApproverScope returns the branches a user may approve for. allBranches is
// true for elevated-role holders; otherwise branchIDs lists the branches the
// user manages (possibly none).
func (s *gormStore) ApproverScope(ctx context.Context, userID int64) (bool, []int64, error) {
	var roles []model.UserRole
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&roles).Error; err != nil {
		return false, nil, err
	}

	var branchIDs []int64
	for _, r := range roles {
		switch r.Role {
		case model.RoleAdmin, model.RoleSecurity:
			return true, nil, nil
		case model.RoleManager:
			if r.BranchID != nil {
				branchIDs = append(branchIDs, *r.BranchID)
			}
		}
	}
	return false, branchIDs, nil
}

func (s *gormStore) HasRole(ctx context.Context, userID int64, role string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.UserRole{}).
		Where("user_id = ? AND role = ?", userID, role).
		Count(&count).Error
	return count > 0, err
}

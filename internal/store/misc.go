package store

import (
	"context"

	"gorm.io/gorm/clause"

	"doorlamp-backend/internal/model"
)

func (s *gormStore) CreateBranch(ctx context.Context, branch *model.Branch) error {
	return s.db.WithContext(ctx).Create(branch).Error
}

func (s *gormStore) GetBranch(ctx context.Context, id int64) (*model.Branch, error) {
	var branch model.Branch
	if err := s.db.WithContext(ctx).First(&branch, id).Error; err != nil {
		return nil, err
	}
	return &branch, nil
}

func (s *gormStore) CreateSchedule(ctx context.Context, schedule *model.Schedule) error {
	return s.db.WithContext(ctx).Create(schedule).Error
}

func (s *gormStore) GetSchedule(ctx context.Context, id int64) (*model.Schedule, error) {
	var schedule model.Schedule
	if err := s.db.WithContext(ctx).First(&schedule, id).Error; err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).
		First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) SubscriptionsForUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

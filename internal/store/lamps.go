package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"doorlamp-backend/internal/model"
)

// CreateLamp inserts a lamp, rejecting device ids already held by an active
// lamp. The check and the insert run in one transaction so two concurrent
// creates cannot both pass the check.
func (s *gormStore) CreateLamp(ctx context.Context, lamp *model.Lamp) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Lamp{}).
			Where("device_id = ? AND active = ?", lamp.DeviceID, true).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check device id %q: %w", lamp.DeviceID, err)
		}
		if count > 0 {
			return ErrDeviceInUse
		}
		return tx.Create(lamp).Error
	})
}

func (s *gormStore) GetLamp(ctx context.Context, id int64) (*model.Lamp, error) {
	var lamp model.Lamp
	if err := s.db.WithContext(ctx).
		Preload("Schedule").Preload("Branch").
		First(&lamp, id).Error; err != nil {
		return nil, err
	}
	return &lamp, nil
}

func (s *gormStore) GetLampByDevice(ctx context.Context, deviceID string) (*model.Lamp, error) {
	var lamp model.Lamp
	if err := s.db.WithContext(ctx).
		Preload("Schedule").Preload("Branch").
		Where("device_id = ? AND active = ?", deviceID, true).
		First(&lamp).Error; err != nil {
		return nil, err
	}
	return &lamp, nil
}

func (s *gormStore) ListLamps(ctx context.Context) ([]model.Lamp, error) {
	var lamps []model.Lamp
	if err := s.db.WithContext(ctx).
		Preload("Schedule").Preload("Branch").
		Order("id").Find(&lamps).Error; err != nil {
		return nil, err
	}
	return lamps, nil
}

// ListActiveLamps returns all active lamps with their schedule and branch,
// the working set of a reconciliation pass.
func (s *gormStore) ListActiveLamps(ctx context.Context) ([]model.Lamp, error) {
	var lamps []model.Lamp
	if err := s.db.WithContext(ctx).
		Preload("Schedule").Preload("Branch").
		Where("active = ?", true).
		Order("id").Find(&lamps).Error; err != nil {
		return nil, err
	}
	return lamps, nil
}

func (s *gormStore) SetLampOverride(ctx context.Context, id int64, enabled bool, state *bool) error {
	res := s.db.WithContext(ctx).Model(&model.Lamp{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{
			"override_enabled": enabled,
			"override_state":   state,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *gormStore) AssignSchedule(ctx context.Context, lampID int64, scheduleID *int64) error {
	res := s.db.WithContext(ctx).Model(&model.Lamp{}).
		Where("id = ? AND active = ?", lampID, true).
		Update("schedule_id", scheduleID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeactivateLamp soft-deletes a lamp. Records stay because request history
// references them.
func (s *gormStore) DeactivateLamp(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Model(&model.Lamp{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *gormStore) SetLampConnectivity(ctx context.Context, deviceID string, connected bool, at time.Time) error {
	updates := map[string]any{"connected": connected}
	if connected {
		updates["last_connected_at"] = at
	} else {
		updates["last_disconnect_at"] = at
	}
	return s.db.WithContext(ctx).Model(&model.Lamp{}).
		Where("device_id = ? AND active = ?", deviceID, true).
		Updates(updates).Error
}

// SetLampState records the lamp's logical state. The update is conditional on
// the stored state actually differing, so concurrent reconciliations of the
// same lamp apply the transition once; the return value reports whether this
// call was the one that changed it.
func (s *gormStore) SetLampState(ctx context.Context, lampID int64, state bool, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Lamp{}).
		Where("id = ? AND current_state <> ?", lampID, state).
		Updates(map[string]any{
			"current_state":     state,
			"last_state_change": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

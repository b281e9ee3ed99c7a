package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"doorlamp-backend/internal/model"
)

// ErrDeviceInUse is returned when a lamp is created with a device id already
// held by another active lamp.
var ErrDeviceInUse = errors.New("device id already in use by an active lamp")

// HistoryFilter bounds a request-history query. Nil fields are ignored; an
// empty non-nil BranchIDs matches nothing.
type HistoryFilter struct {
	RequesterID *int64
	BranchIDs   []int64
	AllBranches bool
	From        *time.Time
	To          *time.Time
}

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	// Lamps
	CreateLamp(ctx context.Context, lamp *model.Lamp) error
	GetLamp(ctx context.Context, id int64) (*model.Lamp, error)
	GetLampByDevice(ctx context.Context, deviceID string) (*model.Lamp, error)
	ListLamps(ctx context.Context) ([]model.Lamp, error)
	ListActiveLamps(ctx context.Context) ([]model.Lamp, error)
	SetLampOverride(ctx context.Context, id int64, enabled bool, state *bool) error
	AssignSchedule(ctx context.Context, lampID int64, scheduleID *int64) error
	DeactivateLamp(ctx context.Context, id int64) error
	SetLampConnectivity(ctx context.Context, deviceID string, connected bool, at time.Time) error
	SetLampState(ctx context.Context, lampID int64, state bool, at time.Time) (bool, error)

	// Access requests
	CreateRequest(ctx context.Context, req *model.AccessRequest) error
	GetRequest(ctx context.Context, id int64) (*model.AccessRequest, error)
	RespondRequest(ctx context.Context, id int64, status model.RequestStatus, responderID int64, notes string, at time.Time, approvedUntil *time.Time) (bool, error)
	SweepTimeouts(ctx context.Context, now time.Time) (int64, error)
	SweepAutoClose(ctx context.Context, now time.Time) (int64, error)
	HasActiveGrant(ctx context.Context, lampID int64, now time.Time) (bool, error)
	ActiveGrantLampIDs(ctx context.Context, now time.Time) (map[int64]struct{}, error)
	ListPendingForBranches(ctx context.Context, branchIDs []int64, allBranches bool) ([]model.AccessRequest, error)
	ListPendingByRequester(ctx context.Context, userID int64) ([]model.AccessRequest, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]model.AccessRequest, error)

	// Role directory
	IsApproverFor(ctx context.Context, userID, branchID int64) (bool, error)
	ApproverIDsFor(ctx context.Context, branchID int64) ([]int64, error)
	ApproverScope(ctx context.Context, userID int64) (allBranches bool, branchIDs []int64, err error)
	HasRole(ctx context.Context, userID int64, role string) (bool, error)

	// Branches and schedules
	CreateBranch(ctx context.Context, branch *model.Branch) error
	GetBranch(ctx context.Context, id int64) (*model.Branch, error)
	CreateSchedule(ctx context.Context, schedule *model.Schedule) error
	GetSchedule(ctx context.Context, id int64) (*model.Schedule, error)

	// Push subscriptions
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	SubscriptionsForUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for migrations and tests.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

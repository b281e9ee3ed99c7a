package model

import "time"

// Lamp represents one physical door-lamp indicator.
type Lamp struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	DeviceID    string `gorm:"size:64;not null;index" json:"device_id"` // hardware identifier; unique among active lamps
	DisplayName string `gorm:"size:256;not null" json:"display_name"`
	BranchID    int64  `gorm:"index;not null" json:"branch_id"`
	ScheduleID  *int64 `gorm:"index" json:"schedule_id"`

	CurrentState    bool `gorm:"not null;default:false" json:"current_state"`
	OverrideEnabled bool `gorm:"not null;default:false" json:"override_enabled"`
	// OverrideState is meaningful only while OverrideEnabled is true.
	OverrideState *bool `json:"override_state"`

	Connected        bool       `gorm:"not null;default:false" json:"connected"`
	LastConnectedAt  *time.Time `json:"last_connected_at"`
	LastDisconnectAt *time.Time `json:"last_disconnect_at"`
	LastStateChange  *time.Time `json:"last_state_change"`

	Active    bool      `gorm:"not null;default:true;index" json:"active"`
	CreatedAt time.Time `gorm:"not null" json:"-"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`

	// Associations
	Branch   Branch    `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Schedule *Schedule `json:"schedule,omitempty"`
}

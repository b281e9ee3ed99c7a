package model

import "time"

// Branch represents an office branch that owns lamps and scopes approvers.
type Branch struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Timezone  string    `gorm:"size:64;not null" json:"timezone"` // IANA name, e.g. "Asia/Tashkent"
	CreatedAt time.Time `gorm:"not null" json:"-"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`

	// Associations
	Lamps []Lamp `gorm:"foreignKey:BranchID" json:"-"`
}

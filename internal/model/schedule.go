package model

import "time"

// Schedule is a recurring daily working-hours window assignable to lamps.
// Start and End are time-of-day strings ("HH:MM" or "HH:MM:SS"); when
// EndEnabled is false the window runs to the end of the day.
type Schedule struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"size:128;not null" json:"name"`
	WorkStart  string    `gorm:"size:16;not null" json:"work_start"`
	WorkEnd    string    `gorm:"size:16" json:"work_end"`
	EndEnabled bool      `gorm:"not null;default:true" json:"end_enabled"`
	CreatedAt  time.Time `gorm:"not null" json:"-"`
	UpdatedAt  time.Time `gorm:"not null" json:"-"`
}

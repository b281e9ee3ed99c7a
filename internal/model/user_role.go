package model

import "time"

// Role names recognized by the role directory. Managers are scoped to a
// branch; admin and security hold approval rights everywhere.
const (
	RoleManager  = "manager"
	RoleAdmin    = "admin"
	RoleSecurity = "security"
)

// UserRole is one role assignment. BranchID is nil for the elevated roles.
type UserRole struct {
	ID        int64     `gorm:"primaryKey"`
	UserID    int64     `gorm:"index;not null"`
	Role      string    `gorm:"size:32;not null;index"`
	BranchID  *int64    `gorm:"index"`
	CreatedAt time.Time `gorm:"not null"`
}

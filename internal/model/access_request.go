package model

import "time"

// RequestStatus enumerates the access-request lifecycle states. Transitions
// out of Pending happen exactly once and never go back.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDeclined RequestStatus = "declined"
	RequestTimeout  RequestStatus = "timeout"
)

// AccessRequest is one employee's ask for a lamp to light outside its normal
// authority. Approved requests keep the lamp on until ApprovedUntil passes,
// at which point the scheduler marks them auto-closed.
type AccessRequest struct {
	ID          int64         `gorm:"primaryKey" json:"id"`
	LampID      int64         `gorm:"index;not null" json:"lamp_id"`
	RequesterID int64         `gorm:"index;not null" json:"requester_id"`
	Reason      string        `gorm:"size:512" json:"reason"`
	Status      RequestStatus `gorm:"size:16;not null;index" json:"status"`

	// TimeoutAt is fixed at creation (+5m) and never rewritten.
	TimeoutAt time.Time `gorm:"not null" json:"timeout_at"`

	ResponderID   *int64     `json:"responder_id"`
	RespondedAt   *time.Time `json:"responded_at"`
	ResponseNotes string     `gorm:"size:512" json:"response_notes"`
	// ApprovedUntil is fixed at approval (+1h) and never rewritten.
	ApprovedUntil *time.Time `json:"approved_until"`

	IsAutoClosed bool       `gorm:"not null;default:false" json:"is_auto_closed"`
	AutoClosedAt *time.Time `json:"auto_closed_at"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`

	// Associations
	Lamp Lamp `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// GrantActiveAt reports whether this request is an active grant at the given
// instant: approved, not auto-closed, and inside its approval window.
func (r *AccessRequest) GrantActiveAt(t time.Time) bool {
	return r.Status == RequestApproved &&
		!r.IsAutoClosed &&
		r.ApprovedUntil != nil &&
		r.ApprovedUntil.After(t)
}

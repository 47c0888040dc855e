package domain

import "time"

// MemberRole enumerates organization membership roles.
type MemberRole string

// Membership roles ordered from most to least privileged.
const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
	RoleViewer MemberRole = "viewer"
)

// ValidRole reports whether the role is one of the known membership roles.
func ValidRole(role MemberRole) bool {
	switch role {
	case RoleAdmin, RoleMember, RoleViewer:
		return true
	default:
		return false
	}
}

// OrganizationMember is a dedicated workflow relation linking a user entity to
// an organization entity. Deactivation is the only removal path.
type OrganizationMember struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	UserID         string     `json:"user_id"`
	Role           MemberRole `json:"role"`
	IsActive       bool       `json:"is_active"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// InvitationStatus enumerates invitation workflow states. All non-pending
// states are terminal.
type InvitationStatus string

// Invitation workflow states.
const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

// DefaultInvitationTTL is applied when an invitation is created without an
// explicit expiry.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// OrganizationInvitation is a pending offer of membership, keyed by email
// rather than user id so it can precede account creation.
type OrganizationInvitation struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	Email          string           `json:"email"`
	Role           MemberRole       `json:"role"`
	Status         InvitationStatus `json:"status"`
	InvitedBy      string           `json:"invited_by"`
	ExpiresAt      time.Time        `json:"expires_at"`
	Version        int64            `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Expired reports whether the invitation's acceptance window has closed.
func (i OrganizationInvitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// RemovalStatus enumerates membership removal request states. All non-pending
// states are terminal.
type RemovalStatus string

// Removal request workflow states.
const (
	RemovalPending   RemovalStatus = "pending"
	RemovalApproved  RemovalStatus = "approved"
	RemovalDenied    RemovalStatus = "denied"
	RemovalCancelled RemovalStatus = "cancelled"
)

// MembershipRemovalRequest asks an admin to deactivate a member. Approval
// cascades to member deactivation in the same transaction.
type MembershipRemovalRequest struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	MemberID       string        `json:"member_id"`
	RequestedBy    string        `json:"requested_by"`
	Reason         string        `json:"reason"`
	Status         RemovalStatus `json:"status"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

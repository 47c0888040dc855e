package core

import (
	"context"
	"fmt"
	"strings"

	"labcore/pkg/domain"
)

// InviteToOrganization creates a pending invitation. Admins only; a live
// pending invitation or active membership for the email is a conflict.
func (s *Service) InviteToOrganization(ctx context.Context, actor Actor, organizationID, email string, role domain.MemberRole) (domain.OrganizationInvitation, domain.Result, error) {
	var invitation domain.OrganizationInvitation
	var res domain.Result
	err := s.instrument(ctx, "invite_to_organization", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if err := liveOrganization(tx, organizationID); err != nil {
				return err
			}
			if err := requireAdmin(tx, "invite_to_organization", organizationID, actor); err != nil {
				return err
			}
			email = strings.TrimSpace(strings.ToLower(email))
			if email == "" {
				return domain.ConflictError{Kind: "invitation", Reason: "email is required"}
			}
			now := tx.Now()
			for _, existing := range tx.ListInvitations(organizationID) {
				if existing.Email == email && existing.Status == domain.InvitationPending && !existing.Expired(now) {
					return domain.ConflictError{Kind: "invitation", Reason: fmt.Sprintf("pending invitation for %s already exists", email)}
				}
			}
			if memberID, ok := activeMemberByEmail(tx, organizationID, email); ok {
				return domain.ConflictError{Kind: "invitation", Reason: fmt.Sprintf("%s already holds membership %s", email, memberID)}
			}
			var err error
			invitation, err = tx.CreateInvitation(domain.OrganizationInvitation{
				OrganizationID: organizationID,
				Email:          email,
				Role:           role,
				InvitedBy:      actor.UserID,
			})
			if err != nil {
				return err
			}
			_, err = tx.AppendEvent(domain.Event{
				EventType:  domain.EventInvitationSent,
				EntityID:   organizationID,
				EntityType: domain.EntityOrganization,
				Data:       map[string]any{"invitation_id": invitation.ID, "email": email, "role": string(role)},
				Metadata:   map[string]any{"actor": actor.UserID},
				SourceNode: s.source,
			})
			return err
		})
		return invitation.ID, txErr
	})
	return invitation, res, err
}

// AcceptInvitation converts a pending, unexpired invitation into an active
// membership in one transaction. The accepting actor's email must match; a
// lapsed invitation is flipped to expired and the call fails with a conflict.
func (s *Service) AcceptInvitation(ctx context.Context, actor Actor, invitationID, email string) (domain.OrganizationMember, domain.Result, error) {
	var member domain.OrganizationMember
	var res domain.Result
	err := s.instrument(ctx, "accept_invitation", actor, func(ctx context.Context) (string, error) {
		if err := s.expireLapsed(ctx, invitationID); err != nil {
			return invitationID, err
		}
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			invitation, ok := tx.FindInvitation(invitationID)
			if !ok {
				return domain.NotFoundError{Kind: "invitation", ID: invitationID}
			}
			if err := domain.InvitationMachine().Guard(string(invitation.Status), string(domain.InvitationAccepted)); err != nil {
				return err
			}
			email = strings.TrimSpace(strings.ToLower(email))
			if email != invitation.Email {
				return domain.PermissionDeniedError{Operation: "accept_invitation", Reason: "invitation addressed to a different email"}
			}
			for _, existing := range tx.ListMembers(invitation.OrganizationID) {
				if existing.UserID == actor.UserID && existing.IsActive {
					return domain.ConflictError{Kind: "member", Reason: fmt.Sprintf("user %s is already a member", actor.UserID)}
				}
			}
			if _, err := tx.UpdateInvitation(invitationID, invitation.Version, func(inv *domain.OrganizationInvitation) error {
				inv.Status = domain.InvitationAccepted
				return nil
			}); err != nil {
				return err
			}
			var err error
			member, err = tx.CreateMember(domain.OrganizationMember{
				OrganizationID: invitation.OrganizationID,
				UserID:         actor.UserID,
				Role:           invitation.Role,
				IsActive:       true,
			})
			if err != nil {
				return err
			}
			for _, eventType := range []string{domain.EventInvitationAccepted, domain.EventMemberAdded} {
				if _, err := tx.AppendEvent(domain.Event{
					EventType:  eventType,
					EntityID:   invitation.OrganizationID,
					EntityType: domain.EntityOrganization,
					Data:       map[string]any{"invitation_id": invitationID, "member_id": member.ID, "user_id": actor.UserID},
					SourceNode: s.source,
				}); err != nil {
					return err
				}
			}
			return nil
		})
		return invitationID, txErr
	})
	return member, res, err
}

// DeclineInvitation marks a pending, unexpired invitation declined. Like
// accept, a lapsed invitation is flipped to expired and the call fails with
// a conflict.
func (s *Service) DeclineInvitation(ctx context.Context, actor Actor, invitationID, email string) (domain.OrganizationInvitation, domain.Result, error) {
	return s.closeInvitation(ctx, actor, invitationID, email, domain.InvitationDeclined, domain.EventInvitationDeclined, "decline_invitation")
}

// CancelInvitation withdraws a pending invitation. Admins of the inviting
// organization only.
func (s *Service) CancelInvitation(ctx context.Context, actor Actor, invitationID string) (domain.OrganizationInvitation, domain.Result, error) {
	var invitation domain.OrganizationInvitation
	var res domain.Result
	err := s.instrument(ctx, "cancel_invitation", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindInvitation(invitationID)
			if !ok {
				return domain.NotFoundError{Kind: "invitation", ID: invitationID}
			}
			if err := requireAdmin(tx, "cancel_invitation", current.OrganizationID, actor); err != nil {
				return err
			}
			if err := domain.InvitationMachine().Guard(string(current.Status), string(domain.InvitationCancelled)); err != nil {
				return err
			}
			var err error
			invitation, err = tx.UpdateInvitation(invitationID, current.Version, func(inv *domain.OrganizationInvitation) error {
				inv.Status = domain.InvitationCancelled
				return nil
			})
			if err != nil {
				return err
			}
			_, err = tx.AppendEvent(domain.Event{
				EventType:  domain.EventInvitationCanceled,
				EntityID:   current.OrganizationID,
				EntityType: domain.EntityOrganization,
				Data:       map[string]any{"invitation_id": invitationID},
				Metadata:   map[string]any{"actor": actor.UserID},
				SourceNode: s.source,
			})
			return err
		})
		return invitationID, txErr
	})
	return invitation, res, err
}

// expireLapsed flips a pending invitation past its expiry in its own
// committed transaction, so the flip survives the rollback of the accept or
// decline it rejects. Returns the conflict to surface, or nil when the
// invitation is live.
func (s *Service) expireLapsed(ctx context.Context, invitationID string) error {
	var lapsed error
	if _, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		invitation, ok := tx.FindInvitation(invitationID)
		if !ok {
			return domain.NotFoundError{Kind: "invitation", ID: invitationID}
		}
		if invitation.Status == domain.InvitationPending && invitation.Expired(tx.Now()) {
			lapsed = domain.ConflictError{Kind: "invitation", Reason: fmt.Sprintf("invitation %s expired at %s", invitationID, invitation.ExpiresAt.Format("2006-01-02"))}
			return expireInvitation(tx, s.source, invitation)
		}
		return nil
	}); err != nil {
		return err
	}
	return lapsed
}

func (s *Service) closeInvitation(ctx context.Context, actor Actor, invitationID, email string, next domain.InvitationStatus, eventType, operation string) (domain.OrganizationInvitation, domain.Result, error) {
	var invitation domain.OrganizationInvitation
	var res domain.Result
	err := s.instrument(ctx, operation, actor, func(ctx context.Context) (string, error) {
		if err := s.expireLapsed(ctx, invitationID); err != nil {
			return invitationID, err
		}
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindInvitation(invitationID)
			if !ok {
				return domain.NotFoundError{Kind: "invitation", ID: invitationID}
			}
			if err := domain.InvitationMachine().Guard(string(current.Status), string(next)); err != nil {
				return err
			}
			if strings.TrimSpace(strings.ToLower(email)) != current.Email {
				return domain.PermissionDeniedError{Operation: operation, Reason: "invitation addressed to a different email"}
			}
			var err error
			invitation, err = tx.UpdateInvitation(invitationID, current.Version, func(inv *domain.OrganizationInvitation) error {
				inv.Status = next
				return nil
			})
			if err != nil {
				return err
			}
			_, err = tx.AppendEvent(domain.Event{
				EventType:  eventType,
				EntityID:   current.OrganizationID,
				EntityType: domain.EntityOrganization,
				Data:       map[string]any{"invitation_id": invitationID},
				SourceNode: s.source,
			})
			return err
		})
		return invitationID, txErr
	})
	return invitation, res, err
}

// ExpireInvitations sweeps the organization's pending invitations past their
// expiry. Returns how many were flipped.
func (s *Service) ExpireInvitations(ctx context.Context, actor Actor, organizationID string) (int, domain.Result, error) {
	expired := 0
	var res domain.Result
	err := s.instrument(ctx, "expire_invitations", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if err := requireAdmin(tx, "expire_invitations", organizationID, actor); err != nil {
				return err
			}
			now := tx.Now()
			for _, invitation := range tx.ListInvitations(organizationID) {
				if invitation.Status != domain.InvitationPending || !invitation.Expired(now) {
					continue
				}
				if err := expireInvitation(tx, s.source, invitation); err != nil {
					return err
				}
				expired++
			}
			return nil
		})
		return organizationID, txErr
	})
	return expired, res, err
}

func expireInvitation(tx domain.Transaction, source string, invitation domain.OrganizationInvitation) error {
	if _, err := tx.UpdateInvitation(invitation.ID, invitation.Version, func(inv *domain.OrganizationInvitation) error {
		inv.Status = domain.InvitationExpired
		return nil
	}); err != nil {
		return err
	}
	_, err := tx.AppendEvent(domain.Event{
		EventType:  domain.EventInvitationExpired,
		EntityID:   invitation.OrganizationID,
		EntityType: domain.EntityOrganization,
		Data:       map[string]any{"invitation_id": invitation.ID},
		SourceNode: source,
	})
	return err
}

// AddMember grants membership directly, bypassing the invitation flow. Admins
// only.
func (s *Service) AddMember(ctx context.Context, actor Actor, organizationID, userID string, role domain.MemberRole) (domain.OrganizationMember, domain.Result, error) {
	var member domain.OrganizationMember
	var res domain.Result
	err := s.instrument(ctx, "add_member", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if err := liveOrganization(tx, organizationID); err != nil {
				return err
			}
			if err := requireAdmin(tx, "add_member", organizationID, actor); err != nil {
				return err
			}
			user, ok := tx.FindEntity(userID)
			if !ok {
				return domain.NotFoundError{Kind: "entity", ID: userID}
			}
			if _, err := domain.AsUser(user); err != nil {
				return err
			}
			if user.Archived() {
				return domain.ConflictError{Kind: "user", Reason: fmt.Sprintf("user %s is archived", userID)}
			}
			for _, existing := range tx.ListMembers(organizationID) {
				if existing.UserID == userID && existing.IsActive {
					return domain.ConflictError{Kind: "member", Reason: fmt.Sprintf("user %s is already a member", userID)}
				}
			}
			var err error
			member, err = tx.CreateMember(domain.OrganizationMember{
				OrganizationID: organizationID,
				UserID:         userID,
				Role:           role,
				IsActive:       true,
			})
			if err != nil {
				return err
			}
			_, err = tx.AppendEvent(domain.Event{
				EventType:  domain.EventMemberAdded,
				EntityID:   organizationID,
				EntityType: domain.EntityOrganization,
				Data:       map[string]any{"member_id": member.ID, "user_id": userID, "role": string(role)},
				Metadata:   map[string]any{"actor": actor.UserID},
				SourceNode: s.source,
			})
			return err
		})
		return member.ID, txErr
	})
	return member, res, err
}

// ChangeMemberRole updates a member's role under the version check. The
// last-admin rule blocks demoting the only active admin.
func (s *Service) ChangeMemberRole(ctx context.Context, actor Actor, memberID string, expectVersion int64, role domain.MemberRole) (domain.OrganizationMember, domain.Result, error) {
	var member domain.OrganizationMember
	var res domain.Result
	err := s.instrument(ctx, "change_member_role", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindMember(memberID)
			if !ok {
				return domain.NotFoundError{Kind: "member", ID: memberID}
			}
			if err := requireAdmin(tx, "change_member_role", current.OrganizationID, actor); err != nil {
				return err
			}
			if !domain.ValidRole(role) {
				return domain.ConflictError{Kind: "member", Reason: fmt.Sprintf("unknown role %q", role)}
			}
			var err error
			member, err = tx.UpdateMember(memberID, expectVersion, func(m *domain.OrganizationMember) error {
				m.Role = role
				return nil
			})
			return err
		})
		return memberID, txErr
	})
	return member, res, err
}

// RequestRemoval opens a removal request for a member. Any active member of
// the organization can file one; duplicates against the same member conflict.
func (s *Service) RequestRemoval(ctx context.Context, actor Actor, organizationID, memberID, reason string) (domain.MembershipRemovalRequest, domain.Result, error) {
	var request domain.MembershipRemovalRequest
	var res domain.Result
	err := s.instrument(ctx, "request_removal", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if err := requireReader(tx, "request_removal", organizationID, actor); err != nil {
				return err
			}
			member, ok := tx.FindMember(memberID)
			if !ok {
				return domain.NotFoundError{Kind: "member", ID: memberID}
			}
			if member.OrganizationID != organizationID {
				return domain.ConflictError{Kind: "removal_request", Reason: fmt.Sprintf("member %s belongs to another organization", memberID)}
			}
			if !member.IsActive {
				return domain.ConflictError{Kind: "removal_request", Reason: fmt.Sprintf("member %s is already inactive", memberID)}
			}
			var err error
			request, err = tx.CreateRemovalRequest(domain.MembershipRemovalRequest{
				OrganizationID: organizationID,
				MemberID:       memberID,
				RequestedBy:    actor.UserID,
				Reason:         reason,
			})
			if err != nil {
				return err
			}
			_, err = tx.AppendEvent(domain.Event{
				EventType:  domain.EventRemovalRequested,
				EntityID:   organizationID,
				EntityType: domain.EntityOrganization,
				Data:       map[string]any{"request_id": request.ID, "member_id": memberID, "reason": reason},
				Metadata:   map[string]any{"actor": actor.UserID},
				SourceNode: s.source,
			})
			return err
		})
		return request.ID, txErr
	})
	return request, res, err
}

// ApproveRemoval approves a pending removal request and deactivates the
// target member in the same transaction. Admins only; the last-admin rule
// blocks emptying the admin set.
func (s *Service) ApproveRemoval(ctx context.Context, actor Actor, requestID string, expectVersion int64) (domain.MembershipRemovalRequest, domain.Result, error) {
	var request domain.MembershipRemovalRequest
	var res domain.Result
	err := s.instrument(ctx, "approve_removal", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindRemovalRequest(requestID)
			if !ok {
				return domain.NotFoundError{Kind: "removal_request", ID: requestID}
			}
			if err := requireAdmin(tx, "approve_removal", current.OrganizationID, actor); err != nil {
				return err
			}
			if err := domain.RemovalMachine().Guard(string(current.Status), string(domain.RemovalApproved)); err != nil {
				return err
			}
			var err error
			request, err = tx.UpdateRemovalRequest(requestID, expectVersion, func(r *domain.MembershipRemovalRequest) error {
				r.Status = domain.RemovalApproved
				return nil
			})
			if err != nil {
				return err
			}
			member, ok := tx.FindMember(current.MemberID)
			if !ok {
				return domain.NotFoundError{Kind: "member", ID: current.MemberID}
			}
			if _, err := tx.UpdateMember(member.ID, member.Version, func(m *domain.OrganizationMember) error {
				m.IsActive = false
				return nil
			}); err != nil {
				return err
			}
			for _, eventType := range []string{domain.EventRemovalApproved, domain.EventMemberDeactivated} {
				if _, err := tx.AppendEvent(domain.Event{
					EventType:  eventType,
					EntityID:   current.OrganizationID,
					EntityType: domain.EntityOrganization,
					Data:       map[string]any{"request_id": requestID, "member_id": member.ID},
					Metadata:   map[string]any{"actor": actor.UserID},
					SourceNode: s.source,
				}); err != nil {
					return err
				}
			}
			return nil
		})
		return requestID, txErr
	})
	return request, res, err
}

// DenyRemoval denies a pending removal request. Admins only.
func (s *Service) DenyRemoval(ctx context.Context, actor Actor, requestID string, expectVersion int64) (domain.MembershipRemovalRequest, domain.Result, error) {
	return s.closeRemoval(ctx, actor, requestID, expectVersion, domain.RemovalDenied, domain.EventRemovalDenied, "deny_removal", true)
}

// CancelRemoval withdraws a pending removal request. The requester or an
// admin may cancel.
func (s *Service) CancelRemoval(ctx context.Context, actor Actor, requestID string, expectVersion int64) (domain.MembershipRemovalRequest, domain.Result, error) {
	return s.closeRemoval(ctx, actor, requestID, expectVersion, domain.RemovalCancelled, domain.EventRemovalCancelled, "cancel_removal", false)
}

func (s *Service) closeRemoval(ctx context.Context, actor Actor, requestID string, expectVersion int64, next domain.RemovalStatus, eventType, operation string, adminOnly bool) (domain.MembershipRemovalRequest, domain.Result, error) {
	var request domain.MembershipRemovalRequest
	var res domain.Result
	err := s.instrument(ctx, operation, actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindRemovalRequest(requestID)
			if !ok {
				return domain.NotFoundError{Kind: "removal_request", ID: requestID}
			}
			if adminOnly || current.RequestedBy != actor.UserID {
				if err := requireAdmin(tx, operation, current.OrganizationID, actor); err != nil {
					return err
				}
			}
			if err := domain.RemovalMachine().Guard(string(current.Status), string(next)); err != nil {
				return err
			}
			var err error
			request, err = tx.UpdateRemovalRequest(requestID, expectVersion, func(r *domain.MembershipRemovalRequest) error {
				r.Status = next
				return nil
			})
			if err != nil {
				return err
			}
			_, err = tx.AppendEvent(domain.Event{
				EventType:  eventType,
				EntityID:   current.OrganizationID,
				EntityType: domain.EntityOrganization,
				Data:       map[string]any{"request_id": requestID},
				Metadata:   map[string]any{"actor": actor.UserID},
				SourceNode: s.source,
			})
			return err
		})
		return requestID, txErr
	})
	return request, res, err
}

// ListMembers returns the organization's membership rows.
func (s *Service) ListMembers(ctx context.Context, actor Actor, organizationID string) ([]domain.OrganizationMember, error) {
	var members []domain.OrganizationMember
	err := s.instrument(ctx, "list_members", actor, func(ctx context.Context) (string, error) {
		return organizationID, s.store.View(ctx, func(view domain.TransactionView) error {
			if err := requireReader(view, "list_members", organizationID, actor); err != nil {
				return err
			}
			members = view.ListMembers(organizationID)
			return nil
		})
	})
	return members, err
}

// ListInvitations returns the organization's invitations.
func (s *Service) ListInvitations(ctx context.Context, actor Actor, organizationID string) ([]domain.OrganizationInvitation, error) {
	var invitations []domain.OrganizationInvitation
	err := s.instrument(ctx, "list_invitations", actor, func(ctx context.Context) (string, error) {
		return organizationID, s.store.View(ctx, func(view domain.TransactionView) error {
			if err := requireAdmin(view, "list_invitations", organizationID, actor); err != nil {
				return err
			}
			invitations = view.ListInvitations(organizationID)
			return nil
		})
	})
	return invitations, err
}

func liveOrganization(view domain.TransactionView, organizationID string) error {
	org, ok := view.FindEntity(organizationID)
	if !ok {
		return domain.NotFoundError{Kind: "entity", ID: organizationID}
	}
	if _, err := domain.AsOrganization(org); err != nil {
		return err
	}
	if org.Archived() {
		return domain.ConflictError{Kind: "organization", Reason: fmt.Sprintf("organization %s is archived", organizationID)}
	}
	return nil
}

// activeMemberByEmail resolves an email to an active membership by joining
// through the user entity's email property.
func activeMemberByEmail(view domain.TransactionView, organizationID, email string) (string, bool) {
	users := view.ListEntities(domain.EntityFilter{
		EntityType:     domain.EntityUser,
		PropertyEquals: map[string]any{"email": email},
	})
	if len(users) == 0 {
		return "", false
	}
	userIDs := make(map[string]struct{}, len(users))
	for _, user := range users {
		userIDs[user.ID] = struct{}{}
	}
	for _, member := range view.ListMembers(organizationID) {
		if !member.IsActive {
			continue
		}
		if _, ok := userIDs[member.UserID]; ok {
			return member.ID, true
		}
	}
	return "", false
}

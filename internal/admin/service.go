package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/yasashii-care/caredocs/internal/audit"
	"github.com/yasashii-care/caredocs/internal/database"
	"github.com/yasashii-care/caredocs/internal/entitlement"
	"github.com/yasashii-care/caredocs/internal/identity"
)

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(q database.Querier) error) error
}

// Operator identifies who performed an admin mutation and why.
type Operator struct {
	Reason   string
	Actor    string
	ClientIP string
}

// NewUser describes an account created by an operator.
type NewUser struct {
	Email       string
	DisplayName string
	Phone       string
	Plan        string
	SeatLimit   int
}

// Service implements the admin control plane. Every mutation and its audit
// entry commit in the same transaction.
type Service struct {
	tx      TxRunner
	users   *identity.Service
	ledger  *entitlement.Ledger
	entries audit.Repository
}

// NewService creates a new admin Service.
func NewService(tx TxRunner, users *identity.Service, ledger *entitlement.Ledger, entries audit.Repository) *Service {
	return &Service{
		tx:      tx,
		users:   users,
		ledger:  ledger,
		entries: entries,
	}
}

// CreateUser provisions an account with a temporary password.
func (s *Service) CreateUser(ctx context.Context, in NewUser, op Operator) (*identity.Provisioned, error) {
	if err := requireReason(op); err != nil {
		return nil, err
	}

	var provisioned *identity.Provisioned
	err := s.tx.InTx(ctx, func(q database.Querier) error {
		p, err := s.users.WithQuerier(q).ProvisionUser(ctx, in.Email, identity.Profile{
			DisplayName: in.DisplayName,
			Phone:       in.Phone,
			Plan:        in.Plan,
			SeatLimit:   in.SeatLimit,
		})
		if err != nil {
			return err
		}
		provisioned = p

		return s.entries.WithQuerier(q).Append(ctx, entry(op, audit.Entry{
			Action:       audit.ActionCreateUser,
			TargetUserID: &p.User.ID,
			TargetEmail:  p.User.Email,
		}))
	})
	if err != nil {
		// The provider account outlives a rolled-back local row.
		if provisioned != nil {
			s.users.DiscardProvisioned(context.WithoutCancel(ctx), provisioned)
		}
		return nil, err
	}

	slog.Info("admin: user created", "userId", provisioned.User.ID, "email", provisioned.User.Email, "actor", op.Actor)
	return provisioned, nil
}

// ReissueCredential replaces the user's password with a new temporary one and
// ends any active session.
func (s *Service) ReissueCredential(ctx context.Context, userID uuid.UUID, op Operator) (string, error) {
	if err := requireReason(op); err != nil {
		return "", err
	}

	var password string
	err := s.tx.InTx(ctx, func(q database.Querier) error {
		users := s.users.WithQuerier(q)
		u, err := users.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		password, err = users.ReissueTemporaryPassword(ctx, userID)
		if err != nil {
			return err
		}

		return s.entries.WithQuerier(q).Append(ctx, entry(op, audit.Entry{
			Action:       audit.ActionReissueCredential,
			TargetUserID: &u.ID,
			TargetEmail:  u.Email,
		}))
	})
	if err != nil {
		return "", err
	}

	slog.Info("admin: credential reissued", "userId", userID, "actor", op.Actor)
	return password, nil
}

// ChangeBillingStatus sets the entitlement of a user, addressed by id, for
// one product. The user's current email selects the ledger row.
func (s *Service) ChangeBillingStatus(ctx context.Context, userID uuid.UUID, productCode string, status entitlement.Status, trialDays int, op Operator) (*entitlement.Record, error) {
	if err := requireReason(op); err != nil {
		return nil, err
	}

	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.grant(ctx, audit.ActionChangeBillingStatus, &u.ID, entitlement.Grant{
		Email:       u.Email,
		ProductCode: productCode,
		Status:      status,
		TrialDays:   trialDays,
	}, op)
}

// GrantEntitlement sets the entitlement for an email directly, for buyers who
// have no account yet.
func (s *Service) GrantEntitlement(ctx context.Context, g entitlement.Grant, op Operator) (*entitlement.Record, error) {
	if err := requireReason(op); err != nil {
		return nil, err
	}
	g.Email = identity.NormalizeEmail(g.Email)

	var target *uuid.UUID
	if u, err := s.users.GetUserByEmail(ctx, g.Email); err == nil {
		target = &u.ID
	} else if !errors.Is(err, identity.ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	return s.grant(ctx, audit.ActionGrantEntitlement, target, g, op)
}

func (s *Service) grant(ctx context.Context, action string, target *uuid.UUID, g entitlement.Grant, op Operator) (*entitlement.Record, error) {
	var rec *entitlement.Record
	err := s.tx.InTx(ctx, func(q database.Querier) error {
		stored, previous, err := s.ledger.WithQuerier(q).GrantManual(ctx, g)
		if err != nil {
			return err
		}
		rec = stored

		e := audit.Entry{
			Action:         action,
			TargetUserID:   target,
			TargetEmail:    stored.Email,
			ProductCode:    stored.ProductCode,
			PreviousStatus: string(previous),
			NewStatus:      string(stored.Status),
		}
		if g.Status == entitlement.StatusTrialing {
			days := g.TrialDays
			e.TrialDays = &days
		}
		return s.entries.WithQuerier(q).Append(ctx, entry(op, e))
	})
	if err != nil {
		return nil, err
	}

	slog.Info("admin: entitlement changed",
		"email", rec.Email,
		"productCode", rec.ProductCode,
		"status", rec.Status,
		"action", action,
		"actor", op.Actor,
	)
	return rec, nil
}

// ListUsers returns a page of users.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]identity.User, error) {
	return s.users.ListUsers(ctx, limit, offset)
}

// ListAudit returns a page of audit entries, newest first.
func (s *Service) ListAudit(ctx context.Context, limit, offset int) ([]audit.Entry, error) {
	return s.entries.List(ctx, limit, offset)
}

// ListWarnings returns reconciliation warnings, newest first.
func (s *Service) ListWarnings(ctx context.Context, includeResolved bool, limit int) ([]audit.Warning, error) {
	return s.entries.ListWarnings(ctx, includeResolved, limit)
}

// ListEntitlements returns every entitlement held by a user.
func (s *Service) ListEntitlements(ctx context.Context, userID uuid.UUID) ([]entitlement.Record, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListByEmail(ctx, u.Email)
}

func requireReason(op Operator) error {
	if strings.TrimSpace(op.Reason) == "" {
		return audit.ErrReasonRequired
	}
	return nil
}

func entry(op Operator, e audit.Entry) *audit.Entry {
	e.Reason = strings.TrimSpace(op.Reason)
	e.Actor = op.Actor
	if e.Actor == "" {
		e.Actor = audit.DefaultActor
	}
	e.ClientIP = op.ClientIP
	return &e
}

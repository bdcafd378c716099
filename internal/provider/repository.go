package provider

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/apperr"
)

var (
	ErrProviderNotFound  = apperr.New(apperr.ErrNotFound, "provider not found")
	ErrRequesterNotFound = apperr.New(apperr.ErrNotFound, "requester not found")
	ErrEmailTaken        = apperr.New(apperr.ErrConflict, "email already registered")
	ErrPatientLimit      = apperr.New(apperr.ErrConflict, "patient limit reached for current plan")
	ErrInvalidTransition = apperr.New(apperr.ErrConflict, "provider status does not allow this action")
)

// Reader is the read side other domain packages depend on.
type Reader interface {
	GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetRequester(ctx context.Context, id uuid.UUID) (*Requester, error)
}

type Repository interface {
	Reader

	GetProviderByEmail(ctx context.Context, email string) (*Provider, error)
	CreateProvider(ctx context.Context, p *Provider) (*Provider, error)
	ListProviders(ctx context.Context, status *Status, limit, offset int) ([]Provider, error)

	// UpdateVerification moves status from any of from to to. It returns
	// ErrInvalidTransition if the row is not in one of from.
	UpdateVerification(ctx context.Context, id uuid.UUID, from []Status, to Status, reason *string) (*Provider, error)
	SetKYCDocuments(ctx context.Context, id uuid.UUID, docs []string) (*Provider, error)

	// CreateRequester reserves patient capacity and inserts r in one unit.
	CreateRequester(ctx context.Context, r *Requester) (*Requester, error)
	GetRequesterByToken(ctx context.Context, token string) (*Requester, error)
	ListRequesters(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Requester, error)
	UpdateRequesterStatus(ctx context.Context, providerID, id uuid.UUID, status RequesterStatus) (*Requester, error)
}

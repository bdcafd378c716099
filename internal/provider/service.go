package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/apperr"
	"github.com/hackgods/mediquory-connect/internal/auth"
	"github.com/hackgods/mediquory-connect/internal/eventlog"
	"github.com/hackgods/mediquory-connect/internal/notify"
)

const (
	EventProviderRegistered = "PROVIDER_REGISTERED"
	EventProviderVerified   = "PROVIDER_VERIFIED"
	EventProviderRejected   = "PROVIDER_REJECTED"
	EventProviderSuspended  = "PROVIDER_SUSPENDED"
	EventRequesterCreated   = "REQUESTER_CREATED"
)

var (
	ErrInvalidCredentials = apperr.New(apperr.ErrForbidden, "invalid email or password")
	ErrReasonRequired     = apperr.New(apperr.ErrValidation, "a reason is required")
)

// Allowance is the patient limit and monthly minute grant of a plan.
type Allowance struct {
	PatientLimit   int
	MonthlyMinutes int
}

// AllowanceSource supplies the allowance new providers start their trial with.
type AllowanceSource interface {
	TrialAllowance(ctx context.Context) (Allowance, error)
}

// AccessCheck decides whether a provider may use paid features right now.
type AccessCheck func(p *Provider, now time.Time) error

type FileStore interface {
	Save(ctx context.Context, dir, filename string, r io.Reader) (string, error)
}

type Service struct {
	repo        Repository
	allowances  AllowanceSource
	checkAccess AccessCheck
	files       FileStore
	notifier    *notify.Dispatcher
	events      *eventlog.Recorder
	trialPeriod time.Duration
	now         func() time.Time
}

type Deps struct {
	Repo        Repository
	Allowances  AllowanceSource
	CheckAccess AccessCheck
	Files       FileStore
	Notifier    *notify.Dispatcher
	Events      *eventlog.Recorder
	TrialPeriod time.Duration
}

func NewService(d Deps) *Service {
	return &Service{
		repo:        d.Repo,
		allowances:  d.Allowances,
		checkAccess: d.CheckAccess,
		files:       d.Files,
		notifier:    d.Notifier,
		events:      d.Events,
		trialPeriod: d.TrialPeriod,
		now:         time.Now,
	}
}

type RegisterInput struct {
	Name               string
	Email              string
	Password           string
	Specialization     string
	RegistrationNumber string
}

// Register creates a provider awaiting KYC review with a fresh trial.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Provider, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("name is required")
	}
	if len(in.Password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}

	allowance, err := s.allowances.TrialAllowance(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trial plan: %w", err)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	trialEnds := now.Add(s.trialPeriod)

	created, err := s.repo.CreateProvider(ctx, &Provider{
		ID:                  uuid.New(),
		Name:                strings.TrimSpace(in.Name),
		Email:               email,
		PasswordHash:        hash,
		Specialization:      in.Specialization,
		RegistrationNumber:  in.RegistrationNumber,
		Status:              StatusPendingVerification,
		SubscriptionTier:    TierTrial,
		SubscriptionStatus:  SubscriptionTrial,
		TrialEndsAt:         &trialEnds,
		MonthlyVideoMinutes: allowance.MonthlyMinutes,
		PatientLimit:        allowance.PatientLimit,
		LastResetDate:       now,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("create provider: %w", err)
	}

	s.events.Record(ctx, created.ID, EventProviderRegistered, map[string]any{
		"trial_ends_at": trialEnds,
	})

	return created, nil
}

// Authenticate checks provider credentials. Unknown email and wrong password
// are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Provider, error) {
	p, err := s.repo.GetProviderByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if !auth.CheckPassword(p.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := s.repo.GetProvider(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return p, nil
}

type Document struct {
	Filename string
	Body     io.Reader
}

// UploadKYC stores documents and replaces the provider's document set. A
// rejected provider goes back to review.
func (s *Service) UploadKYC(ctx context.Context, providerID uuid.UUID, docs []Document) (*Provider, error) {
	if len(docs) == 0 {
		return nil, apperr.Validation("at least one document is required")
	}
	if _, err := s.repo.GetProvider(ctx, providerID); err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}

	paths := make([]string, 0, len(docs))
	for _, d := range docs {
		path, err := s.files.Save(ctx, "kyc/"+providerID.String(), d.Filename, d.Body)
		if err != nil {
			return nil, fmt.Errorf("store kyc document: %w", err)
		}
		paths = append(paths, path)
	}

	updated, err := s.repo.SetKYCDocuments(ctx, providerID, paths)
	if err != nil {
		return nil, fmt.Errorf("save kyc documents: %w", err)
	}
	return updated, nil
}

func (s *Service) List(ctx context.Context, status *Status, limit, offset int) ([]Provider, error) {
	limit, offset = clampPage(limit, offset)
	providers, err := s.repo.ListProviders(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return providers, nil
}

// Verify approves a pending provider or reinstates a suspended one.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := s.repo.UpdateVerification(ctx, id, []Status{StatusPendingVerification, StatusSuspended}, StatusVerified, nil)
	if err != nil {
		return nil, fmt.Errorf("verify provider: %w", err)
	}
	s.events.Record(ctx, p.ID, EventProviderVerified, map[string]any{})
	s.notifier.Mail(ctx, notify.VerificationMail(p.Email, p.Name))
	s.notifier.Emit(ctx, notify.ProviderRoom(p.ID), EventProviderVerified, map[string]any{"status": p.Status})
	return p, nil
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*Provider, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	p, err := s.repo.UpdateVerification(ctx, id, []Status{StatusPendingVerification}, StatusRejected, &reason)
	if err != nil {
		return nil, fmt.Errorf("reject provider: %w", err)
	}
	s.events.Record(ctx, p.ID, EventProviderRejected, map[string]any{"reason": reason})
	s.notifier.Mail(ctx, notify.RejectionMail(p.Email, p.Name, reason))
	return p, nil
}

func (s *Service) Suspend(ctx context.Context, id uuid.UUID, reason string) (*Provider, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	p, err := s.repo.UpdateVerification(ctx, id, []Status{StatusVerified}, StatusSuspended, &reason)
	if err != nil {
		return nil, fmt.Errorf("suspend provider: %w", err)
	}
	s.events.Record(ctx, p.ID, EventProviderSuspended, map[string]any{"reason": reason})
	s.notifier.Mail(ctx, notify.SuspensionMail(p.Email, p.Name, reason))
	return p, nil
}

type RequesterInput struct {
	Name  string
	Email *string
	Phone *string
}

// CreateRequester adds a patient under the provider. The access gate runs on
// every call and the patient limit is enforced atomically by the repository.
func (s *Service) CreateRequester(ctx context.Context, providerID uuid.UUID, in RequesterInput) (*Requester, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("name is required")
	}
	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		in.Email = &email
	}

	p, err := s.repo.GetProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if err := s.checkAccess(p, s.now()); err != nil {
		return nil, err
	}
	if !p.HasPatientCapacity() {
		return nil, ErrPatientLimit
	}

	token, err := auth.NewAccessToken()
	if err != nil {
		return nil, err
	}

	r, err := s.repo.CreateRequester(ctx, &Requester{
		ID:          uuid.New(),
		ProviderID:  providerID,
		Name:        strings.TrimSpace(in.Name),
		Email:       in.Email,
		Phone:       in.Phone,
		Status:      RequesterActive,
		AccessToken: token,
	})
	if err != nil {
		if errors.Is(err, ErrPatientLimit) {
			return nil, err
		}
		return nil, fmt.Errorf("create requester: %w", err)
	}

	s.events.Record(ctx, r.ID, EventRequesterCreated, map[string]any{"provider_id": providerID.String()})
	log.Printf("requester created provider_id=%s requester_id=%s", providerID, r.ID)
	return r, nil
}

func (s *Service) ListRequesters(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Requester, error) {
	limit, offset = clampPage(limit, offset)
	rs, err := s.repo.ListRequesters(ctx, providerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list requesters: %w", err)
	}
	return rs, nil
}

func (s *Service) SetRequesterStatus(ctx context.Context, providerID, id uuid.UUID, status RequesterStatus) (*Requester, error) {
	if status != RequesterActive && status != RequesterWaitlisted {
		return nil, apperr.Validation("status must be ACTIVE or WAITLISTED")
	}
	r, err := s.repo.UpdateRequesterStatus(ctx, providerID, id, status)
	if err != nil {
		return nil, fmt.Errorf("update requester status: %w", err)
	}
	return r, nil
}

// RequesterByToken resolves the opaque access token a requester signs in with.
func (s *Service) RequesterByToken(ctx context.Context, token string) (*Requester, error) {
	if token == "" {
		return nil, ErrInvalidCredentials
	}
	r, err := s.repo.GetRequesterByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrRequesterNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load requester: %w", err)
	}
	return r, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", apperr.Validation("invalid email address")
	}
	return strings.ToLower(addr.Address), nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

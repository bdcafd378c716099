package provider

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/mediquory-connect/internal/apperr"
	"github.com/hackgods/mediquory-connect/internal/notify"
)

type memRepo struct {
	mu         sync.Mutex
	providers  map[uuid.UUID]*Provider
	requesters map[uuid.UUID]*Requester
}

func newMemRepo() *memRepo {
	return &memRepo{providers: map[uuid.UUID]*Provider{}, requesters: map[uuid.UUID]*Requester{}}
}

func (m *memRepo) GetProvider(_ context.Context, id uuid.UUID) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetRequester(_ context.Context, id uuid.UUID) (*Requester, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requesters[id]
	if !ok {
		return nil, ErrRequesterNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) GetProviderByEmail(_ context.Context, email string) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if strings.EqualFold(p.Email, email) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrProviderNotFound
}

func (m *memRepo) CreateProvider(_ context.Context, p *Provider) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.providers {
		if existing.Email == p.Email {
			return nil, ErrEmailTaken
		}
	}
	cp := *p
	m.providers[p.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRepo) ListProviders(_ context.Context, status *Status, _, _ int) ([]Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Provider
	for _, p := range m.providers {
		if status == nil || p.Status == *status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateVerification(_ context.Context, id uuid.UUID, from []Status, to Status, reason *string) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	if !slices.Contains(from, p.Status) {
		return nil, ErrInvalidTransition
	}
	p.Status = to
	p.RejectionReason = reason
	cp := *p
	return &cp, nil
}

func (m *memRepo) SetKYCDocuments(_ context.Context, id uuid.UUID, docs []string) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	p.KYCDocuments = docs
	if p.Status == StatusRejected {
		p.Status = StatusPendingVerification
		p.RejectionReason = nil
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) CreateRequester(_ context.Context, r *Requester) (*Requester, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[r.ProviderID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	if !p.HasPatientCapacity() {
		return nil, ErrPatientLimit
	}
	p.PatientCount++
	cp := *r
	m.requesters[r.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRepo) GetRequesterByToken(_ context.Context, token string) (*Requester, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requesters {
		if r.AccessToken == token {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRequesterNotFound
}

func (m *memRepo) ListRequesters(_ context.Context, providerID uuid.UUID, _, _ int) ([]Requester, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Requester
	for _, r := range m.requesters {
		if r.ProviderID == providerID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateRequesterStatus(_ context.Context, providerID, id uuid.UUID, status RequesterStatus) (*Requester, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requesters[id]
	if !ok || r.ProviderID != providerID {
		return nil, ErrRequesterNotFound
	}
	r.Status = status
	cp := *r
	return &cp, nil
}

type fixedAllowance struct{}

func (fixedAllowance) TrialAllowance(context.Context) (Allowance, error) {
	return Allowance{PatientLimit: 2, MonthlyMinutes: 60}, nil
}

type memFiles struct{ saved []string }

func (f *memFiles) Save(_ context.Context, dir, filename string, r io.Reader) (string, error) {
	_, _ = io.ReadAll(r)
	path := dir + "/" + filename
	f.saved = append(f.saved, path)
	return path, nil
}

type mailbox struct {
	mu   sync.Mutex
	sent []notify.Mail
}

func (m *mailbox) Send(_ context.Context, mail notify.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	return nil
}

var errExpired = apperr.New(apperr.ErrConflict, "subscription expired")

func newTestService(t *testing.T) (*Service, *memRepo, *mailbox) {
	t.Helper()
	repo := newMemRepo()
	mails := &mailbox{}
	svc := NewService(Deps{
		Repo:       repo,
		Allowances: fixedAllowance{},
		CheckAccess: func(p *Provider, now time.Time) error {
			if p.EffectiveSubscription(now) == SubscriptionExpired {
				return errExpired
			}
			return nil
		},
		Files:       &memFiles{},
		Notifier:    notify.NewDispatcher(mails, nil),
		TrialPeriod: 14 * 24 * time.Hour,
	})
	return svc, repo, mails
}

func register(t *testing.T, svc *Service, email string) *Provider {
	t.Helper()
	p, err := svc.Register(context.Background(), RegisterInput{
		Name:     "Asha Rao",
		Email:    email,
		Password: "correct-horse",
	})
	require.NoError(t, err)
	return p
}

func TestRegisterStartsTrial(t *testing.T) {
	svc, _, _ := newTestService(t)

	p := register(t, svc, "Asha@Example.com")

	assert.Equal(t, "asha@example.com", p.Email)
	assert.Equal(t, StatusPendingVerification, p.Status)
	assert.Equal(t, SubscriptionTrial, p.SubscriptionStatus)
	assert.Equal(t, TierTrial, p.SubscriptionTier)
	assert.Equal(t, 2, p.PatientLimit)
	assert.Equal(t, 60, p.MonthlyVideoMinutes)
	require.NotNil(t, p.TrialEndsAt)
	assert.WithinDuration(t, time.Now().Add(14*24*time.Hour), *p.TrialEndsAt, time.Minute)

	_, err := svc.Register(context.Background(), RegisterInput{Name: "X", Email: "asha@example.com", Password: "12345678"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.Register(context.Background(), RegisterInput{Name: "X", Email: "nope", Password: "12345678"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAuthenticate(t *testing.T) {
	svc, _, _ := newTestService(t)
	register(t, svc, "doc@example.com")

	_, err := svc.Authenticate(context.Background(), "doc@example.com", "correct-horse")
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "doc@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "ghost@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerificationTransitions(t *testing.T) {
	svc, _, mails := newTestService(t)
	p := register(t, svc, "doc@example.com")
	ctx := context.Background()

	_, err := svc.Reject(ctx, p.ID, "  ")
	assert.ErrorIs(t, err, ErrReasonRequired)

	_, err = svc.Suspend(ctx, p.ID, "fraud")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	verified, err := svc.Verify(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, verified.Status)

	_, err = svc.Reject(ctx, p.ID, "late")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	suspended, err := svc.Suspend(ctx, p.ID, "complaints")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, suspended.Status)

	reinstated, err := svc.Verify(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, reinstated.Status)

	require.Len(t, mails.sent, 3)
	assert.Contains(t, mails.sent[1].Subject, "suspended")
}

func TestRejectedProviderReturnsToReviewAfterKYC(t *testing.T) {
	svc, _, _ := newTestService(t)
	p := register(t, svc, "doc@example.com")
	ctx := context.Background()

	_, err := svc.Reject(ctx, p.ID, "blurred licence")
	require.NoError(t, err)

	updated, err := svc.UploadKYC(ctx, p.ID, []Document{{Filename: "licence.pdf", Body: strings.NewReader("pdf")}})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingVerification, updated.Status)
	assert.Equal(t, []string{"kyc/" + p.ID.String() + "/licence.pdf"}, updated.KYCDocuments)
}

func TestCreateRequesterGates(t *testing.T) {
	svc, repo, _ := newTestService(t)
	p := register(t, svc, "doc@example.com")
	ctx := context.Background()

	first, err := svc.CreateRequester(ctx, p.ID, RequesterInput{Name: "Ravi"})
	require.NoError(t, err)
	assert.Len(t, first.AccessToken, 64)
	assert.Equal(t, RequesterActive, first.Status)

	_, err = svc.CreateRequester(ctx, p.ID, RequesterInput{Name: "Meena"})
	require.NoError(t, err)

	_, err = svc.CreateRequester(ctx, p.ID, RequesterInput{Name: "Third"})
	assert.ErrorIs(t, err, ErrPatientLimit)

	yesterday := time.Now().Add(-24 * time.Hour)
	repo.providers[p.ID].TrialEndsAt = &yesterday
	repo.providers[p.ID].PatientLimit = 0
	_, err = svc.CreateRequester(ctx, p.ID, RequesterInput{Name: "Late"})
	assert.True(t, errors.Is(err, errExpired))

	got, err := svc.RequesterByToken(ctx, first.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = svc.RequesterByToken(ctx, "bogus")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSetRequesterStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	p := register(t, svc, "doc@example.com")
	ctx := context.Background()

	r, err := svc.CreateRequester(ctx, p.ID, RequesterInput{Name: "Ravi"})
	require.NoError(t, err)

	updated, err := svc.SetRequesterStatus(ctx, p.ID, r.ID, RequesterWaitlisted)
	require.NoError(t, err)
	assert.Equal(t, RequesterWaitlisted, updated.Status)

	_, err = svc.SetRequesterStatus(ctx, p.ID, r.ID, "GONE")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.SetRequesterStatus(ctx, uuid.New(), r.ID, RequesterActive)
	assert.ErrorIs(t, err, ErrRequesterNotFound)
}

func TestEffectiveSubscription(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		p    Provider
		want SubscriptionStatus
	}{
		{"trial running", Provider{SubscriptionStatus: SubscriptionTrial, TrialEndsAt: &future}, SubscriptionTrial},
		{"trial lapsed", Provider{SubscriptionStatus: SubscriptionTrial, TrialEndsAt: &past}, SubscriptionExpired},
		{"active running", Provider{SubscriptionStatus: SubscriptionActive, SubscriptionEndsAt: &future}, SubscriptionActive},
		{"active lapsed", Provider{SubscriptionStatus: SubscriptionActive, SubscriptionEndsAt: &past}, SubscriptionExpired},
		{"active without end", Provider{SubscriptionStatus: SubscriptionActive}, SubscriptionExpired},
		{"cancelled", Provider{SubscriptionStatus: SubscriptionCancelled, SubscriptionEndsAt: &future}, SubscriptionCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.p.EffectiveSubscription(now))
		})
	}
}

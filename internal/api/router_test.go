package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/mediquory-connect/internal/apperr"
	"github.com/hackgods/mediquory-connect/internal/appointment"
	"github.com/hackgods/mediquory-connect/internal/auth"
	"github.com/hackgods/mediquory-connect/internal/db"
	"github.com/hackgods/mediquory-connect/internal/payment"
	"github.com/hackgods/mediquory-connect/internal/payment/paymenttest"
	"github.com/hackgods/mediquory-connect/internal/provider"
	"github.com/hackgods/mediquory-connect/internal/quota"
	"github.com/hackgods/mediquory-connect/internal/subscription"
)

const webhookSecret = "whsec_test"

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type memPeople struct {
	requesters map[uuid.UUID]*provider.Requester
}

func (m *memPeople) GetProvider(context.Context, uuid.UUID) (*provider.Provider, error) {
	return nil, provider.ErrProviderNotFound
}

func (m *memPeople) GetRequester(_ context.Context, id uuid.UUID) (*provider.Requester, error) {
	r, ok := m.requesters[id]
	if !ok {
		return nil, provider.ErrRequesterNotFound
	}
	return r, nil
}

type memAppointments struct {
	mu    sync.Mutex
	items map[uuid.UUID]appointment.Appointment
}

func (m *memAppointments) CreateAppointment(_ context.Context, a *appointment.Appointment) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	m.items[a.ID] = *a
	cp := *a
	return &cp, nil
}

func (m *memAppointments) GetAppointment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memAppointments) UpdateAppointment(_ context.Context, a *appointment.Appointment, from appointment.Status) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[a.ID]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if cur.Status != from {
		return nil, appointment.ErrInvalidTransition
	}
	a.UpdatedAt = time.Now()
	m.items[a.ID] = *a
	cp := *a
	return &cp, nil
}

func (m *memAppointments) ListByProvider(_ context.Context, providerID uuid.UUID, status *appointment.Status, _, _ int) ([]appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []appointment.Appointment{}
	for _, a := range m.items {
		if a.ProviderID == providerID && (status == nil || a.Status == *status) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAppointments) ListByRequester(_ context.Context, requesterID uuid.UUID, _, _ int) ([]appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []appointment.Appointment{}
	for _, a := range m.items {
		if a.RequesterID == requesterID {
			out = append(out, a)
		}
	}
	return out, nil
}

type memQuota struct {
	mu        sync.Mutex
	providers map[uuid.UUID]*provider.Provider
}

func (m *memQuota) get(id uuid.UUID) (*provider.Provider, error) {
	p, ok := m.providers[id]
	if !ok {
		return nil, provider.ErrProviderNotFound
	}
	return p, nil
}

func (m *memQuota) AddMinutes(_ context.Context, id uuid.UUID, bucket quota.Bucket, delta int) (*provider.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if bucket == quota.BucketPurchased {
		p.PurchasedMinutes += delta
	} else {
		p.MonthlyVideoMinutes += delta
	}
	cp := *p
	return &cp, nil
}

func (m *memQuota) AddUsage(_ context.Context, _ db.Querier, id uuid.UUID, minutes int) (*provider.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	p.TotalMinutesUsed += minutes
	cp := *p
	return &cp, nil
}

func (m *memQuota) ResetUsage(_ context.Context, id uuid.UUID, now time.Time) (*provider.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	p.TotalMinutesUsed = 0
	p.LastResetDate = now
	cp := *p
	return &cp, nil
}

func (m *memQuota) ResetDue(context.Context, time.Time, time.Time) (int64, error) {
	return 0, nil
}

type fixture struct {
	handler     http.Handler
	issuer      *auth.Issuer
	quota       *memQuota
	providerID  uuid.UUID
	requesterID uuid.UUID
}

func newFixture(t *testing.T, admin AdminCredentials) fixture {
	t.Helper()

	providerID, requesterID := uuid.New(), uuid.New()
	people := &memPeople{requesters: map[uuid.UUID]*provider.Requester{
		requesterID: {ID: requesterID, ProviderID: providerID, Name: "Asha", Status: provider.RequesterActive},
	}}
	appointments := appointment.NewService(people, &memAppointments{items: map[uuid.UUID]appointment.Appointment{}}, nil, nil)
	issuer := auth.NewIssuer("router-test-secret", time.Hour, time.Hour)
	store := &memQuota{providers: map[uuid.UUID]*provider.Provider{
		providerID: {
			ID:                  providerID,
			Name:                "Meera Rao",
			Status:              provider.StatusVerified,
			SubscriptionTier:    provider.TierTrial,
			SubscriptionStatus:  provider.SubscriptionTrial,
			MonthlyVideoMinutes: 60,
			TotalMinutesUsed:    45,
		},
	}}

	handler := NewRouter(RouterConfig{
		Appointments:  appointments,
		Quota:         quota.NewLedger(store),
		Subscriptions: subscription.NewService(subscription.Deps{Verifier: payment.NewVerifier("key_secret", webhookSecret)}),
		Issuer:        issuer,
		Admin:         admin,
		Postgres:      stubPinger{},
		Redis:         stubPinger{},
		Env:           "test",
		Version:       "dev",
	})

	return fixture{handler: handler, issuer: issuer, quota: store, providerID: providerID, requesterID: requesterID}
}

func (f fixture) token(t *testing.T, role auth.Role, id uuid.UUID) string {
	t.Helper()
	tok, _, err := f.issuer.IssueSession(auth.Principal{Role: role, ID: id})
	require.NoError(t, err)
	return tok
}

func (f fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleErrorMapsKinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.Validation("bad input"), http.StatusBadRequest, "validation_failed"},
		{fmt.Errorf("load: %w", provider.ErrProviderNotFound), http.StatusNotFound, "not_found"},
		{appointment.ErrNotOwner, http.StatusForbidden, "forbidden"},
		{appointment.ErrInvalidTransition, http.StatusConflict, "conflict"},
		{payment.ErrGatewayUnavailable, http.StatusBadGateway, "gateway_error"},
		{provider.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
		assert.Equal(t, tt.code, resp.Error)
	}
}

func TestInternalErrorTextIsHidden(t *testing.T) {
	rec := httptest.NewRecorder()
	handleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("password=hunter2"))
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		pg, rd   error
		status   int
		expected string
	}{
		{"all up", nil, nil, http.StatusOK, "ok"},
		{"redis down", nil, errors.New("down"), http.StatusOK, "degraded"},
		{"postgres down", errors.New("down"), nil, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(stubPinger{tt.pg}, stubPinger{tt.rd}, "test", "dev")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			var resp ReadinessResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.expected, resp.Status)
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, AdminCredentials{})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRoleGating(t *testing.T) {
	f := newFixture(t, AdminCredentials{})
	providerTok := f.token(t, auth.RoleProvider, f.providerID)
	requesterTok := f.token(t, auth.RoleRequester, f.requesterID)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/appointments", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/appointments", "garbage", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/appointments", requesterTok, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/requester/appointments", providerTok, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/admin/reconcile", providerTok, nil).Code)
}

func TestAdminLogin(t *testing.T) {
	hash, err := auth.HashPassword("correct horse battery")
	require.NoError(t, err)
	f := newFixture(t, AdminCredentials{Email: "ops@mediquory.test", PasswordHash: hash})

	rec := f.do(t, http.MethodPost, "/auth/admin/login", "", LoginRequest{Email: "OPS@mediquory.test", Password: "correct horse battery"})
	require.Equal(t, http.StatusOK, rec.Code)

	var session SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	assert.Equal(t, string(auth.RoleAdmin), session.Role)

	p, err := f.issuer.ParseSession(session.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, p.Role)

	rec = f.do(t, http.MethodPost, "/auth/admin/login", "", LoginRequest{Email: "ops@mediquory.test", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminLoginDisabledWithoutCredentials(t *testing.T) {
	f := newFixture(t, AdminCredentials{})
	rec := f.do(t, http.MethodPost, "/auth/admin/login", "", LoginRequest{Email: "a@b.c", Password: "anything"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookSignature(t *testing.T) {
	f := newFixture(t, AdminCredentials{})
	body := []byte(`{"event":"payment.authorized","payload":{}}`)

	post := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
		req.Header.Set("X-Razorpay-Signature", sig)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusBadRequest, post("deadbeef"))
	assert.Equal(t, http.StatusOK, post(paymenttest.Sign(webhookSecret, body)))
}

func TestRequestBodyValidation(t *testing.T) {
	f := newFixture(t, AdminCredentials{})
	providerTok := f.token(t, auth.RoleProvider, f.providerID)
	requesterTok := f.token(t, auth.RoleRequester, f.requesterID)

	rec := f.do(t, http.MethodPost, "/consultations", providerTok, map[string]string{"requester_id": uuid.NewString(), "kind": "AUDIO"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Kind")

	rec = f.do(t, http.MethodPost, "/minutes/orders", providerTok, map[string]int{"minutes": 20000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/requester/appointments", requesterTok, map[string]string{"requested_date": "next tuesday", "reason": "fever"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/appointments/not-a-uuid/complete", providerTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppointmentFlowOverHTTP(t *testing.T) {
	f := newFixture(t, AdminCredentials{})
	providerTok := f.token(t, auth.RoleProvider, f.providerID)
	requesterTok := f.token(t, auth.RoleRequester, f.requesterID)
	tomorrow := time.Now().AddDate(0, 0, 1)

	rec := f.do(t, http.MethodPost, "/requester/appointments", requesterTok, RequestAppointmentRequest{
		RequestedDate:  tomorrow.Format(time.DateOnly),
		TimePreference: "morning",
		Reason:         "persistent cough",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var appt appointment.Appointment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&appt))
	assert.Equal(t, f.providerID, appt.ProviderID)
	assert.Equal(t, appointment.StatusRequested, appt.Status)
	assert.Equal(t, appointment.PreferMorning, appt.TimePreference)

	// the requester cannot confirm their own request
	rec = f.do(t, http.MethodPost, "/requester/appointments/"+appt.ID.String()+"/accept", requesterTok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// another provider cannot touch it
	other := f.token(t, auth.RoleProvider, uuid.New())
	rec = f.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/accept", other, ScheduleRequest{ScheduledAt: tomorrow.Add(2 * time.Hour)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/accept", providerTok, ScheduleRequest{ScheduledAt: tomorrow.Add(2 * time.Hour)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&appt))
	assert.Equal(t, appointment.StatusConfirmed, appt.Status)
	require.NotNil(t, appt.ScheduledAt)

	rec = f.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/reject", providerTok, ReasonRequest{Reason: "too late"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/appointments?status=confirmed", providerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []appointment.Appointment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list, 1)

	rec = f.do(t, http.MethodPost, "/requester/appointments/"+appt.ID.String()+"/cancel", requesterTok, ReasonRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "cancel needs a reason")

	rec = f.do(t, http.MethodPost, "/requester/appointments/"+appt.ID.String()+"/cancel", requesterTok, ReasonRequest{Reason: "feeling better"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&appt))
	assert.Equal(t, appointment.StatusCancelled, appt.Status)
}

func TestAdminGrantMinutes(t *testing.T) {
	f := newFixture(t, AdminCredentials{})
	adminTok := f.token(t, auth.RoleAdmin, uuid.New())
	path := "/admin/providers/" + f.providerID.String() + "/minutes"

	rec := f.do(t, http.MethodPost, path, adminTok, GrantMinutesRequest{Bucket: "purchased", Delta: 120})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ProviderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 120, resp.PurchasedMinutes)
	assert.Equal(t, 60, resp.MonthlyVideoMinutes)

	rec = f.do(t, http.MethodPost, path, adminTok, GrantMinutesRequest{Bucket: "monthly", Delta: 30})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 90, f.quota.providers[f.providerID].MonthlyVideoMinutes)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, path, adminTok, GrantMinutesRequest{Bucket: "purchased", Delta: 0}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, path, adminTok, GrantMinutesRequest{Bucket: "bonus", Delta: 10}).Code)
	assert.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodPost, "/admin/providers/"+uuid.NewString()+"/minutes", adminTok, GrantMinutesRequest{Bucket: "purchased", Delta: 5}).Code)
	assert.Equal(t, http.StatusForbidden,
		f.do(t, http.MethodPost, path, f.token(t, auth.RoleProvider, f.providerID), GrantMinutesRequest{Bucket: "purchased", Delta: 5}).Code)
	assert.Equal(t, 120, f.quota.providers[f.providerID].PurchasedMinutes)
}

func TestAdminResetQuota(t *testing.T) {
	f := newFixture(t, AdminCredentials{})
	adminTok := f.token(t, auth.RoleAdmin, uuid.New())

	rec := f.do(t, http.MethodPost, "/admin/providers/"+f.providerID.String()+"/quota/reset", adminTok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ProviderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 0, resp.TotalMinutesUsed)
	assert.False(t, f.quota.providers[f.providerID].LastResetDate.IsZero())

	assert.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodPost, "/admin/providers/"+uuid.NewString()+"/quota/reset", adminTok, nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/admin/providers/not-a-uuid/quota/reset", adminTok, nil).Code)
}

func TestVerifyVideoToken(t *testing.T) {
	f := newFixture(t, AdminCredentials{})
	room := uuid.NewString()

	token, _, err := f.issuer.IssueVideo(room, auth.Principal{Role: auth.RoleRequester, ID: f.requesterID})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/video/verify", "", VerifyVideoTokenRequest{Token: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp VideoTokenClaimsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, room, resp.Room)
	assert.Equal(t, string(auth.RoleRequester), resp.Role)
	assert.Equal(t, f.requesterID, resp.UserID)

	session := f.token(t, auth.RoleRequester, f.requesterID)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/video/verify", "", VerifyVideoTokenRequest{Token: session}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/video/verify", "", VerifyVideoTokenRequest{}).Code)
}

func TestStatusRecorderCountsAndFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	sr.WriteHeader(http.StatusCreated)
	_, err := sr.Write([]byte("hello"))
	require.NoError(t, err)
	sr.Flush()

	assert.Equal(t, http.StatusCreated, sr.status)
	assert.Equal(t, 5, sr.bytes)
	assert.True(t, rec.Flushed)
}

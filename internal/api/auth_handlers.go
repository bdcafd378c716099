package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/auth"
	"github.com/hackgods/mediquory-connect/internal/provider"
)

// AdminCredentials is the single operator account configured by environment.
type AdminCredentials struct {
	Email        string
	PasswordHash string
}

// ID is stable for a given email so events recorded by the admin line up
// across restarts.
func (a AdminCredentials) ID() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.ToLower(a.Email)))
}

func registerProviderHandler(svc *provider.Service, now clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterProviderRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		p, err := svc.Register(r.Context(), provider.RegisterInput{
			Name:               req.Name,
			Email:              req.Email,
			Password:           req.Password,
			Specialization:     req.Specialization,
			RegistrationNumber: req.RegistrationNumber,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toProviderResponse(p, now()))
	}
}

func providerLoginHandler(svc *provider.Service, issuer *auth.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		p, err := svc.Authenticate(r.Context(), req.Email, req.Password)
		if err != nil {
			handleError(w, r, err)
			return
		}

		issueSession(w, r, issuer, auth.Principal{Role: auth.RoleProvider, ID: p.ID})
	}
}

func adminLoginHandler(admin AdminCredentials, issuer *auth.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if admin.Email == "" || admin.PasswordHash == "" ||
			!strings.EqualFold(strings.TrimSpace(req.Email), admin.Email) ||
			!auth.CheckPassword(admin.PasswordHash, req.Password) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}

		issueSession(w, r, issuer, auth.Principal{Role: auth.RoleAdmin, ID: admin.ID()})
	}
}

func requesterSessionHandler(svc *provider.Service, issuer *auth.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RequesterSessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		requester, err := svc.RequesterByToken(r.Context(), req.AccessToken)
		if err != nil {
			handleError(w, r, err)
			return
		}

		issueSession(w, r, issuer, auth.Principal{Role: auth.RoleRequester, ID: requester.ID})
	}
}

func issueSession(w http.ResponseWriter, r *http.Request, issuer *auth.Issuer, p auth.Principal) {
	token, expiresAt, err := issuer.IssueSession(p)
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Role:      string(p.Role),
		SubjectID: p.ID,
	})
}

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/auth"
	"github.com/hackgods/mediquory-connect/internal/consultation"
)

func startConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartConsultationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		requesterID, _ := uuid.Parse(req.RequesterID)

		c, created, err := svc.Start(r.Context(), principal(r).ID, requesterID, consultation.Kind(req.Kind))
		if err != nil {
			handleError(w, r, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, ConsultationResponse{Consultation: c, Created: created})
	}
}

func getConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		c, err := svc.Get(r.Context(), principal(r), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func endConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		c, err := svc.End(r.Context(), principal(r).ID, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func listMessagesHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		limit, offset := pageParams(r)
		msgs, err := svc.ListMessages(r.Context(), principal(r), id, limit, offset)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func postMessageHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req PostMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		m, err := svc.PostMessage(r.Context(), principal(r), id, req.Body)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

func videoTokenHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		grant, err := svc.VideoToken(r.Context(), principal(r), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, grant)
	}
}

// verifyVideoTokenHandler lets the media server check a join token before
// admitting a participant to a room.
func verifyVideoTokenHandler(issuer *auth.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyVideoTokenRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		room, p, err := issuer.ParseVideo(req.Token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "video token is invalid or expired")
			return
		}
		writeJSON(w, http.StatusOK, VideoTokenClaimsResponse{Room: room, Role: string(p.Role), UserID: p.ID})
	}
}

func createPrescriptionHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req PrescriptionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		pr, err := svc.CreatePrescription(r.Context(), principal(r).ID, id, consultation.PrescriptionInput{
			Diagnosis:    req.Diagnosis,
			Medications:  req.Medications,
			Instructions: req.Instructions,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, pr)
	}
}

func downloadPrescriptionHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		pdf, pr, err := svc.DownloadPrescription(r.Context(), principal(r), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, consultation.SerialLabel(pr.Serial)))
		w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pdf)
	}
}

// uploadPaymentProofHandler takes the proof image in the "proof" field and
// the paid amount in "amount_paise".
func uploadPaymentProofHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_multipart", "could not parse multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		amount, err := strconv.ParseInt(r.FormValue("amount_paise"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_amount", "amount_paise must be an integer")
			return
		}

		file, header, err := r.FormFile("proof")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_proof", "proof file is required")
			return
		}
		defer file.Close()

		pc, err := svc.UploadPaymentProof(r.Context(), principal(r).ID, id, amount, header.Filename, file)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, pc)
	}
}

func confirmPaymentHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		pc, err := svc.ConfirmPayment(r.Context(), principal(r).ID, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pc)
	}
}

func getPaymentHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		pc, err := svc.Payment(r.Context(), principal(r), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pc)
	}
}

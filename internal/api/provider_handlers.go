package api

import (
	"mime/multipart"
	"net/http"

	"github.com/hackgods/mediquory-connect/internal/provider"
	"github.com/hackgods/mediquory-connect/internal/quota"
)

const maxUploadBytes = 10 << 20

func meHandler(svc *provider.Service, now clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Get(r.Context(), principal(r).ID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProviderResponse(p, now()))
	}
}

func quotaHandler(svc *provider.Service, now clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Get(r.Context(), principal(r).ID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, quota.SnapshotOf(p, now()))
	}
}

// uploadKYCHandler takes one or more files in the "documents" form field.
func uploadKYCHandler(svc *provider.Service, now clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_multipart", "could not parse multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		headers := r.MultipartForm.File["documents"]
		docs := make([]provider.Document, 0, len(headers))
		files := make([]multipart.File, 0, len(headers))
		defer func() {
			for _, f := range files {
				f.Close()
			}
		}()

		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_multipart", "could not read "+fh.Filename)
				return
			}
			files = append(files, f)
			docs = append(docs, provider.Document{Filename: fh.Filename, Body: f})
		}

		p, err := svc.UploadKYC(r.Context(), principal(r).ID, docs)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProviderResponse(p, now()))
	}
}

func createRequesterHandler(svc *provider.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequesterRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		created, err := svc.CreateRequester(r.Context(), principal(r).ID, provider.RequesterInput{
			Name:  req.Name,
			Email: req.Email,
			Phone: req.Phone,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRequesterResponse(created, true))
	}
}

func listRequestersHandler(svc *provider.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		list, err := svc.ListRequesters(r.Context(), principal(r).ID, limit, offset)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]RequesterResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toRequesterResponse(&list[i], false))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func requesterStatusHandler(svc *provider.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req RequesterStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		updated, err := svc.SetRequesterStatus(r.Context(), principal(r).ID, id, provider.RequesterStatus(req.Status))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequesterResponse(updated, false))
	}
}

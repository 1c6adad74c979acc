package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"thumbforge/internal/domain"
	"thumbforge/internal/identity"
	"thumbforge/internal/retry"
)

// maxUploadBytes bounds a whole multipart upload request.
const maxUploadBytes = 64 << 20

type photoResultResponse struct {
	Filename string `json:"filename"`
	PhotoID  string `json:"photo_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (a *App) UploadIdentityPhotos(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	files := r.MultipartForm.File["photos"]
	uploads := make([]identity.PhotoUpload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			uploads = append(uploads, identity.PhotoUpload{Filename: fh.Filename})
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			uploads = append(uploads, identity.PhotoUpload{Filename: fh.Filename})
			continue
		}
		uploads = append(uploads, identity.PhotoUpload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	results, err := a.Identity.UploadPhotos(r.Context(), userID, uploads)
	if err != nil {
		a.domainError(w, err)
		return
	}
	items := make([]photoResultResponse, 0, len(results))
	for _, res := range results {
		items = append(items, photoResultResponse(res))
	}
	a.json(w, http.StatusOK, map[string]any{"results": items})
}

func (a *App) CommitIdentityTraining(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	model, err := a.Identity.CommitTraining(r.Context(), userID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"status":      string(model.Status),
		"photo_count": model.PhotoCount,
	})
}

// statusWaitPolicy bounds the long-poll variant of the status endpoint well
// under typical proxy timeouts.
var statusWaitPolicy = retry.Policy{MaxAttempts: 15, Interval: 2 * time.Second, Timeout: 25 * time.Second}

func (a *App) IdentityStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	st, err := a.Identity.GetStatus(r.Context(), userID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if r.URL.Query().Get("wait") == "true" && st.Status.InFlight() {
		// Long poll: hold the request until training settles or the wait
		// policy gives up, then report whatever state the model is in.
		err := a.Identity.WaitUntilTrained(r.Context(), userID, statusWaitPolicy)
		if err != nil && !errors.Is(err, retry.ErrExhausted) && !errors.Is(err, retry.ErrTimeout) &&
			!errors.Is(err, domain.ErrProviderFailure) && !errors.Is(err, domain.ErrInvalidInput) {
			a.domainError(w, err)
			return
		}
		if st, err = a.Identity.GetStatus(r.Context(), userID); err != nil {
			a.domainError(w, err)
			return
		}
	}
	a.json(w, http.StatusOK, map[string]any{
		"status":        string(st.Status),
		"trigger_word":  st.TriggerWord,
		"error_message": st.ErrorMessage,
		"photo_count":   st.PhotoCount,
	})
}

func (a *App) DeleteIdentityPhoto(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	photoID := chi.URLParam(r, "photo_id")
	if photoID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "photo_id required")
		return
	}
	if err := a.Identity.DeletePhoto(r.Context(), userID, photoID); err != nil {
		a.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) ResetIdentityModel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	if err := a.Identity.Reset(r.Context(), userID, cascade); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "none"})
}

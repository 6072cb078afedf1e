package controllers

import (
	"consentsync/internal/apperr"
	"consentsync/internal/connectivity"
	"consentsync/internal/models"
	"consentsync/internal/providers"
	"consentsync/internal/stores"
	"errors"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// Bodies carry base64 signature images.
const maxRequestBodySize = 8 << 20

type ApiController struct {
	logger   providers.Logger
	config   stores.ConfigStoreInterface
	consents stores.ConsentStoreInterface
	probe    connectivity.ProbeInterface
}

func NewApiController(logger providers.Logger, config stores.ConfigStoreInterface, consents stores.ConsentStoreInterface, probe connectivity.ProbeInterface) *ApiController {
	return &ApiController{
		logger:   logger,
		config:   config,
		consents: consents,
		probe:    probe,
	}
}

// errorResponse carries the record a mutation already applied locally when
// only its remote write failed.
type errorResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	Unconfirmed bool   `json:"unconfirmed,omitempty"`
	Record      any    `json:"record,omitempty"`
}

type statusResponse struct {
	Connected   *bool         `json:"connected"`
	CheckedAt   *time.Time    `json:"checkedAt,omitempty"`
	OfflineMode bool          `json:"offlineMode"`
	Config      stores.Status `json:"config"`
	Consents    stores.Status `json:"consents"`
}

// StatusFor maps an error kind to the HTTP status reported to the UI.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Unreachable:
		return http.StatusServiceUnavailable
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	case apperr.RemoteRejected:
		return http.StatusBadGateway
	case apperr.IntegrityViolation:
		return http.StatusConflict
	case apperr.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	gson, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(gson)
}

func (ac *ApiController) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		ac.logger.Errorf(providers.GetLogTypeByRequestType(r.Method), "%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		ac.logger.Debugf(providers.GetLogTypeByRequestType(r.Method), "%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorResponse{Error: apperr.UserMessage(err), Kind: apperr.KindOf(err).String()})
}

// writeMutationError reports a failed mutation. Stores return a record with
// an id only when it was applied locally, so that record is sent back
// flagged unconfirmed.
func (ac *ApiController) writeMutationError(w http.ResponseWriter, r *http.Request, err error, id string, record any) {
	if id == "" {
		ac.writeError(w, r, err)
		return
	}
	ac.logger.Warnf(providers.GetLogTypeByRequestType(r.Method), "%s %s: %s kept locally: %v", r.Method, r.URL.Path, id, err)
	writeJSON(w, StatusFor(err), errorResponse{
		Error:       apperr.UserMessage(err),
		Kind:        apperr.KindOf(err).String(),
		Unconfirmed: true,
		Record:      record,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return false
	}
	return true
}

func requireParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		http.Error(w, "Bad Request: missing "+name, http.StatusBadRequest)
		return "", false
	}
	return v, true
}

func (ac *ApiController) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ac.config.Config())
}

func (ac *ApiController) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch models.ConfigPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	if err := ac.config.UpdateConfig(r.Context(), patch); err != nil {
		ac.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ac.config.Config())
}

func (ac *ApiController) AddArtist(w http.ResponseWriter, r *http.Request) {
	var artist models.Artist
	if !decodeBody(w, r, &artist) {
		return
	}
	created, err := ac.config.AddArtist(r.Context(), artist)
	if err != nil {
		ac.writeMutationError(w, r, err, created.ID, created)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (ac *ApiController) UpdateArtist(w http.ResponseWriter, r *http.Request) {
	id, ok := requireParam(w, r, "id")
	if !ok {
		return
	}
	var patch models.ArtistPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	updated, err := ac.config.UpdateArtist(r.Context(), id, patch)
	if err != nil {
		ac.writeMutationError(w, r, err, updated.ID, updated)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (ac *ApiController) RemoveArtist(w http.ResponseWriter, r *http.Request) {
	id, ok := requireParam(w, r, "id")
	if !ok {
		return
	}
	if err := ac.config.RemoveArtist(r.Context(), id); err != nil {
		ac.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ac *ApiController) GetConsents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ac.consents.Active())
}

func (ac *ApiController) GetArchivedConsents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ac.consents.Archived())
}

// GetConsent looks a record up by id in both collections.
func (ac *ApiController) GetConsent(w http.ResponseWriter, r *http.Request) {
	id, ok := requireParam(w, r, "id")
	if !ok {
		return
	}
	rec, found := ac.consents.Get(id)
	if !found {
		ac.writeError(w, r, apperr.New(apperr.NotFound, "get consent", "no consent with id "+id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (ac *ApiController) AddConsent(w http.ResponseWriter, r *http.Request) {
	var consent models.NewConsent
	if !decodeBody(w, r, &consent) {
		return
	}
	rec, err := ac.consents.Add(r.Context(), consent)
	if err != nil {
		ac.writeMutationError(w, r, err, rec.ID, rec)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (ac *ApiController) ArchiveConsent(w http.ResponseWriter, r *http.Request) {
	id, ok := requireParam(w, r, "id")
	if !ok {
		return
	}
	rec, err := ac.consents.Archive(r.Context(), id)
	if err != nil {
		ac.writeMutationError(w, r, err, rec.ID, rec)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Verify looks a printed verification code up in both collections.
func (ac *ApiController) Verify(w http.ResponseWriter, r *http.Request) {
	code, ok := requireParam(w, r, "code")
	if !ok {
		return
	}
	if !stores.ValidCode(code) {
		http.Error(w, "Bad Request: malformed code", http.StatusBadRequest)
		return
	}
	rec, found := ac.consents.GetByCode(code)
	if !found {
		ac.writeError(w, r, apperr.New(apperr.NotFound, "verify", "no consent with code "+code))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (ac *ApiController) GetStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ac.consents.Statistics())
}

// Retry is the manual retry behind the connection banner.
func (ac *ApiController) Retry(w http.ResponseWriter, r *http.Request) {
	ac.config.RetryConnection()
	ac.consents.RetryConnection()
	w.WriteHeader(http.StatusAccepted)
}

func (ac *ApiController) GetStatus(w http.ResponseWriter, r *http.Request) {
	state := ac.probe.State()
	resp := statusResponse{
		OfflineMode: state.IsOfflineMode(),
		Config:      ac.config.Status(),
		Consents:    ac.consents.Status(),
	}
	if st, ok := state.Status(); ok {
		resp.Connected = &st.IsConnected
		resp.CheckedAt = &st.CheckedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

package api

import (
	"encoding/json"
	goerrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"modelswitchd/pkg/errors"
	"modelswitchd/pkg/log"
	"modelswitchd/pkg/models"
	"modelswitchd/pkg/switcher"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeControllerError maps engine errors onto HTTP statuses.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case goerrors.Is(err, errors.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case goerrors.Is(err, errors.ErrUnknownProfile), goerrors.Is(err, errors.ErrUnknownMode),
		goerrors.Is(err, errors.ErrTargetProfileMissing):
		writeError(w, http.StatusBadRequest, err.Error())
	case goerrors.Is(err, errors.ErrNotInHeavyMode):
		writeError(w, http.StatusConflict, err.Error())
	case goerrors.Is(err, errors.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case goerrors.Is(err, errors.ErrServiceNotAllowed):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.IsBackendAbsent(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.IsHealthTimeout(err):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.IsManualIntervention(err):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"switch_in_progress": s.controller.Busy(),
		"auth_configured":    s.cfg.AuthToken != "",
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready, reason := s.controller.Ready(r.Context())
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false, "reason": reason})

		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
}

type catalogResponse struct {
	DefaultProfile string                   `json:"default_profile"`
	Profiles       []models.WorkloadProfile `json:"profiles"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{
		DefaultProfile: s.catalog.DefaultProfile().ID,
		Profiles:       s.catalog.Profiles(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := s.controller.Status(r.Context())
	if err != nil {
		writeControllerError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, doc)
}

type switchRequest struct {
	TargetProfile string `json:"target_profile"`
	WaitForReady  bool   `json:"wait_for_ready"`
}

type acceptedResponse struct {
	*models.SwitchRecord
	PollEndpoint string `json:"poll_endpoint"`
}

// writeRecord acknowledges an operation. A record that is not yet terminal
// goes out as 202 together with the endpoint to poll for progress.
func writeRecord(w http.ResponseWriter, rec *models.SwitchRecord) {
	if rec.State.Terminal() {
		writeJSON(w, http.StatusOK, rec)

		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		SwitchRecord: rec,
		PollEndpoint: "/api/v1/switch/" + rec.ID,
	})
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	req := switchRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())

		return
	}

	rec, err := s.controller.Switch(r.Context(), req.TargetProfile, req.WaitForReady)
	if err != nil {
		writeControllerError(w, err)

		return
	}

	writeRecord(w, rec)
}

func (s *Server) handleSwitchRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.controller.Record(mux.Vars(r)["id"])
	if err != nil {
		writeControllerError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

type modeSwitchRequest struct {
	Mode          string `json:"mode"`
	TTLMinutes    int    `json:"ttl_minutes"`
	TargetProfile string `json:"target_profile"`
	WaitForReady  bool   `json:"wait_for_ready"`
}

func (s *Server) handleModeSwitch(w http.ResponseWriter, r *http.Request) {
	req := modeSwitchRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())

		return
	}

	var (
		rec *models.SwitchRecord
		err error
	)

	switch models.Mode(req.Mode) {
	case models.ModeHeavy:
		rec, err = s.controller.EnterHeavy(r.Context(), req.TTLMinutes, req.WaitForReady)
	case models.ModeServing:
		rec, err = s.controller.Release(r.Context(), req.TargetProfile, req.WaitForReady)
	default:
		writeControllerError(w, errors.ErrUnknownMode)

		return
	}

	if err != nil {
		writeControllerError(w, err)

		return
	}

	writeRecord(w, rec)
}

type releaseRequest struct {
	TargetProfile string `json:"target_profile"`
	WaitForReady  bool   `json:"wait_for_ready"`
}

func (s *Server) handleModeRelease(w http.ResponseWriter, r *http.Request) {
	// A bare POST is the common case: revert to the default profile,
	// whatever the lease says. A body may narrow the target.
	req := releaseRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !goerrors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())

		return
	}

	rec, err := s.controller.Release(r.Context(), req.TargetProfile, req.WaitForReady)
	if err != nil {
		writeControllerError(w, err)

		return
	}

	writeRecord(w, rec)
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.StopAll(r.Context(), switcher.ActorOperator); err != nil {
		writeControllerError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	tail := 200

	if raw := r.URL.Query().Get("tail"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "tail must be a positive integer")

			return
		}

		tail = parsed
	}

	out, err := s.controller.Logs(r.Context(), mux.Vars(r)["service"], tail)
	if err != nil {
		writeControllerError(w, err)

		return
	}

	log.GetLogger(r.Context()).Debugf("served %d bytes of logs", len(out))
	writeJSON(w, http.StatusOK, map[string]string{"service": mux.Vars(r)["service"], "logs": out})
}

package transport

import (
	"encoding/json"
	"net/http"
	"time"
)

type modelVersionView struct {
	Version int64  `json:"version"`
	Status  string `json:"status"`
}

type modelView struct {
	Name     string             `json:"name"`
	Versions []modelVersionView `json:"versions"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	views := make([]modelView, 0, len(s.engine.Models.Names()))
	for _, name := range s.engine.Models.Names() {
		m := s.engine.Models.Get(name)
		if m == nil {
			continue
		}
		v := modelView{Name: name}
		for _, ver := range m.Versions() {
			inst := m.Get(ver)
			if inst == nil {
				continue
			}
			v.Versions = append(v.Versions, modelVersionView{Version: ver, Status: inst.Status().String()})
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": views})
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": s.engine.Pipelines.Names()})
}

type predictRequest struct {
	Model          string                `json:"model,omitempty"`
	Version        int64                 `json:"version,omitempty"`
	Pipeline       string                `json:"pipeline,omitempty"`
	DeadlineMillis int64                 `json:"deadline_millis,omitempty"`
	Inputs         map[string]wireTensor `json:"inputs"`
}

type predictResponse struct {
	Outputs map[string]wireTensor `json:"outputs"`
}

// handlePredict is the thin JSON demo of Engine.Predict/PredictPipeline
// named in spec.md §6: it only decodes the wire tensors, dispatches to
// whichever path the request names, and re-encodes the result. Every
// validation/reshape/scheduling decision happens inside pkg/engine.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	inputs, err := decodeRequest(req.Inputs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	deadline := time.Duration(req.DeadlineMillis) * time.Millisecond

	if req.Pipeline != "" {
		result, err := s.engine.PredictPipeline(r.Context(), req.Pipeline, deadline, inputs)
		if err != nil {
			s.logPredictError(r, "pipeline", req.Pipeline, err)
			writeError(w, httpStatusForEngineError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, predictResponse{Outputs: encodeResponse(result)})
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, errMissingModelOrPipeline)
		return
	}
	result, err := s.engine.Predict(r.Context(), req.Model, req.Version, inputs)
	if err != nil {
		s.logPredictError(r, "model", req.Model, err)
		writeError(w, httpStatusForEngineError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, predictResponse{Outputs: encodeResponse(result)})
}

func (s *Server) logPredictError(r *http.Request, kind, name string, err error) {
	s.logger.Warn("transport: predict failed", "request_id", requestIDFromContext(r.Context()), kind, name, "error", err)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rendis/docket/internal/store"
	"github.com/rendis/docket/pkg/schema"
)

// handleStartInstance triggers an orchestration. The response is 202: the
// instance is persisted and driving, not finished. A request that fails
// validation still names the failed instance it produced.
func (s *Server) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}

	inst, err := s.deps.Engine.Start(r.Context(), body, "api")
	if err != nil {
		if inst != nil {
			writeJSON(w, statusFromError(err), map[string]string{
				"error":       err.Error(),
				"instance_id": inst.ID,
			})
			return
		}
		writeDocketError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"instance_id": inst.ID,
		"status":      inst.Status,
		"container":   inst.Container,
		"blob_name":   inst.BlobName,
		"status_url":  "/instances/" + inst.ID,
	})
}

// handleGetInstance returns the instance row plus its replayed task states.
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Engine.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDocketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleInstanceHistory returns the raw append-only event log.
func (s *Server) handleInstanceHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Engine.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDocketError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(events),
		"results": events,
	})
}

// handleListReports lists report summaries for a container, newest first.
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	container := r.PathValue("container")
	top := clampTop(queryInt(r, "top", defaultTop))

	summaries, err := s.deps.Store.ListReports(r.Context(), container, top)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list reports: "+err.Error())
		return
	}
	if summaries == nil {
		summaries = []*store.ReportSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(summaries),
		"results": summaries,
	})
}

// handleGetReport returns the stored report verbatim, or a jq projection of
// it when ?q= is present.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	container := r.PathValue("container")
	blobName := r.PathValue("blob_name")

	row, err := s.deps.Store.GetReport(r.Context(), container, blobName)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "get report: "+err.Error())
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(row.Report)
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(row.Report, &doc); err != nil {
		writeError(w, http.StatusInternalServerError, "decode stored report: "+err.Error())
		return
	}
	result, err := s.jq.Evaluate(r.Context(), query, doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleHealthz reports liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

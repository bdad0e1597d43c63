package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/graphsink"
	"github.com/go-chi/chi/v5"
)

// handleListDocuments lists published decision graphs.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	graphs, err := s.orchestrator.Sink().ListGraphs(r.Context(), limit)
	if err != nil {
		jsonError(w, "failed to list graphs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if graphs == nil {
		graphs = []graphsink.GraphInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"documents": graphs})
}

// handleDeleteDocument removes a document's published graphs.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if err := s.orchestrator.Sink().DeleteGraph(r.Context(), docID); err != nil {
		jsonError(w, "failed to delete graph: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"doc_id": docID, "status": "deleted"})
}

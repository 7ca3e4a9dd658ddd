package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/vpsa-network/fl-service-layer/internal/coordinator"
	"github.com/vpsa-network/fl-service-layer/internal/fabric"
	"github.com/vpsa-network/fl-service-layer/internal/vpsa"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writePayload relays a recovered ledger payload: structured values verbatim,
// plain text as a JSON string.
func writePayload(w http.ResponseWriter, status int, p fabric.Payload) {
	if p.IsJSON() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(p.JSON)
		return
	}
	writeJSON(w, status, p.Text)
}

// writePayloadList relays a payload that callers expect to be a list: a JSON
// array passes through, a single object is wrapped, anything else is empty.
func writePayloadList(w http.ResponseWriter, status int, p fabric.Payload) {
	if p.IsJSON() {
		trimmed := strings.TrimSpace(string(p.JSON))
		switch {
		case strings.HasPrefix(trimmed, "["):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write(p.JSON)
			return
		case strings.HasPrefix(trimmed, "{"):
			writeJSON(w, status, []json.RawMessage{p.JSON})
			return
		case trimmed == "null":
			// chaincode returns null for empty result sets
		}
	}
	writeJSON(w, status, []any{})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"network":   "Hyperledger Fabric",
		"chaincode": s.cfg.Chaincode,
	})
}

type registerClientRequest struct {
	ClientID    string `json:"clientID"`
	Domain      string `json:"domain"`
	DatasetSize int    `json:"datasetSize"`
}

func (s *Server) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req registerClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClientID == "" || req.Domain == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}
	if req.Domain != vpsa.DomainSource && req.Domain != vpsa.DomainTarget {
		writeError(w, http.StatusBadRequest, "domain must be source or target")
		return
	}

	args := []string{req.ClientID, req.Domain, strconv.Itoa(req.DatasetSize)}
	if _, err := s.gateway.Invoke(r.Context(), fabric.FnRegisterClient, args); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"message":  fmt.Sprintf("Client %s registered successfully", req.ClientID),
		"clientID": req.ClientID,
	})
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientID"]
	payload, err := s.gateway.Query(r.Context(), fabric.FnGetClient, []string{clientID})
	if err != nil {
		s.writeQueryError(w, err, http.StatusNotFound)
		return
	}
	writePayload(w, http.StatusOK, payload)
}

func (s *Server) handleGetAllClients(w http.ResponseWriter, r *http.Request) {
	payload, err := s.gateway.Query(r.Context(), fabric.FnGetAllClients, nil)
	if err != nil {
		if fabric.KindOf(err) == fabric.ParseFailure {
			// an empty ledger yields empty output; render as no clients
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		s.writeGatewayError(w, err)
		return
	}
	writePayloadList(w, http.StatusOK, payload)
}

type submitModelRequest struct {
	ModelID        string          `json:"modelID"`
	ClientID       string          `json:"clientID"`
	Weights        json.RawMessage `json:"weights"`
	LatentFeatures json.RawMessage `json:"latentFeatures"`
	Prototypes     json.RawMessage `json:"prototypes"`
	Accuracy       float64         `json:"accuracy"`
	Loss           float64         `json:"loss"`
	AlignmentLoss  float64         `json:"alignmentLoss"`
	DataSize       int             `json:"dataSize"`
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func (s *Server) handleSubmitModel(w http.ResponseWriter, r *http.Request) {
	var req submitModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ModelID == "" || req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	args := []string{
		req.ModelID,
		req.ClientID,
		rawOrEmpty(req.Weights),
		rawOrEmpty(req.LatentFeatures),
		rawOrEmpty(req.Prototypes),
		formatFloat(req.Accuracy),
		formatFloat(req.Loss),
		formatFloat(req.AlignmentLoss),
		strconv.Itoa(req.DataSize),
	}
	if _, err := s.gateway.Invoke(r.Context(), fabric.FnSubmitLocalModel, args); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "Model submitted successfully",
		"modelID": req.ModelID,
	})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	modelID := mux.Vars(r)["modelID"]
	payload, err := s.gateway.Query(r.Context(), fabric.FnGetLocalModel, []string{modelID})
	if err != nil {
		s.writeQueryError(w, err, http.StatusNotFound)
		return
	}
	writePayload(w, http.StatusOK, payload)
}

func (s *Server) handleModelsByRound(w http.ResponseWriter, r *http.Request) {
	round := mux.Vars(r)["round"]
	payload, err := s.gateway.Query(r.Context(), fabric.FnGetLocalModelsByRound, []string{round})
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writePayloadList(w, http.StatusOK, payload)
}

type aggregateRequest struct {
	ModelIDs        []string `json:"modelIDs"`
	SourceWeight    *float64 `json:"sourceWeight"`
	TargetWeight    *float64 `json:"targetWeight"`
	AlignmentWeight *float64 `json:"alignmentWeight"`
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	summary, err := s.coord.RunRound(r.Context(), req.ModelIDs, coordinator.RoundParams{
		SourceWeight:    req.SourceWeight,
		TargetWeight:    req.TargetWeight,
		AlignmentWeight: req.AlignmentWeight,
	})
	if err != nil {
		var verr *coordinator.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Reason)
		case errors.Is(err, coordinator.ErrNoValidModels):
			writeError(w, http.StatusNotFound, "no valid models found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Models aggregated successfully",
		"metrics":    summary.Metrics,
		"num_models": summary.NumRequested,
		"round":      summary.Round,
		"provenance": summary.Provenance,
	})
}

func (s *Server) handleGlobalModel(w http.ResponseWriter, r *http.Request) {
	payload, err := s.gateway.Query(r.Context(), fabric.FnGetGlobalModel, nil)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writePayload(w, http.StatusOK, payload)
}

func (s *Server) handleModelHistory(w http.ResponseWriter, r *http.Request) {
	payload, err := s.gateway.Query(r.Context(), fabric.FnGetModelHistory, []string{vpsa.GlobalModelID})
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writePayloadList(w, http.StatusOK, payload)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	payload, err := s.gateway.Query(r.Context(), fabric.FnGetAggregationConfig, nil)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writePayload(w, http.StatusOK, payload)
}

type updateConfigRequest struct {
	MinClients      *int     `json:"minClients"`
	SourceWeight    *float64 `json:"sourceWeight"`
	TargetWeight    *float64 `json:"targetWeight"`
	AlignmentWeight *float64 `json:"alignmentWeight"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	minClients, sourceWeight, targetWeight, alignmentWeight := 3, 0.6, 0.4, 0.1
	if req.MinClients != nil {
		minClients = *req.MinClients
	}
	if req.SourceWeight != nil {
		sourceWeight = *req.SourceWeight
	}
	if req.TargetWeight != nil {
		targetWeight = *req.TargetWeight
	}
	if req.AlignmentWeight != nil {
		alignmentWeight = *req.AlignmentWeight
	}

	args := []string{
		strconv.Itoa(minClients),
		formatFloat(sourceWeight),
		formatFloat(targetWeight),
		formatFloat(alignmentWeight),
	}
	if _, err := s.gateway.Invoke(r.Context(), fabric.FnUpdateAggregationConfig, args); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Configuration updated successfully"})
}

func (s *Server) handleRoundMetrics(w http.ResponseWriter, r *http.Request) {
	round := mux.Vars(r)["round"]
	payload, err := s.gateway.Query(r.Context(), fabric.FnGetTrainingMetrics, []string{round})
	if err != nil {
		s.writeQueryError(w, err, http.StatusNotFound)
		return
	}
	writePayload(w, http.StatusOK, payload)
}

func (s *Server) handleAllMetrics(w http.ResponseWriter, r *http.Request) {
	payload, err := s.gateway.Query(r.Context(), fabric.FnGetAllTrainingMetrics, nil)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writePayloadList(w, http.StatusOK, payload)
}

// writeGatewayError maps gateway failures onto 500-class responses, with the
// transport's diagnostic text when there is one.
func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	var gerr *fabric.Error
	if errors.As(err, &gerr) && gerr.Output != "" {
		writeError(w, http.StatusInternalServerError, gerr.Output)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// writeQueryError maps a failed lookup onto notFound for transport failures
// (the chaincode reports missing keys as errors), keeping timeouts as 500s.
func (s *Server) writeQueryError(w http.ResponseWriter, err error, notFound int) {
	if fabric.KindOf(err) == fabric.TransportFailure {
		var gerr *fabric.Error
		msg := err.Error()
		if errors.As(err, &gerr) && gerr.Output != "" {
			msg = gerr.Output
		}
		writeError(w, notFound, msg)
		return
	}
	s.writeGatewayError(w, err)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

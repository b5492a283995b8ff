package api

import (
	"net/http"
	"strconv"

	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/service"
	"github.com/asset-registry/internal/types"
	"github.com/gorilla/mux"
)

// TransferRequest names the receiving account of a transfer
type TransferRequest struct {
	To types.Account `json:"to"`
}

func assetIDFromPath(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.NewInvalidParameterError("id", "asset id must be a positive integer")
	}
	return id, nil
}

// handleGetAsset returns the fresh detail of an owned asset
func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := assetIDFromPath(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	asset, err := s.session.AssetDetail(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, asset)
}

// handleGetAssetHistory returns the full history of an owned asset
func (s *Server) handleGetAssetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := assetIDFromPath(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	records, err := s.session.AssetHistory(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"assetId": id,
		"history": records,
	})
}

func (s *Server) handleRegisterProfile(w http.ResponseWriter, r *http.Request) {
	var req service.ProfileInput
	if !decodeBody(w, r, &req) {
		return
	}
	s.respondWrite(w, r)(s.session.RegisterProfile(r.Context(), req))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req service.ProfileInput
	if !decodeBody(w, r, &req) {
		return
	}
	s.respondWrite(w, r)(s.session.UpdateProfile(r.Context(), req))
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req service.AssetInput
	if !decodeBody(w, r, &req) {
		return
	}
	s.respondWrite(w, r)(s.session.RegisterAsset(r.Context(), req))
}

func (s *Server) handleTransferAsset(w http.ResponseWriter, r *http.Request) {
	id, err := assetIDFromPath(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.respondWrite(w, r)(s.session.TransferAsset(r.Context(), service.TransferInput{
		AssetID: id,
		To:      req.To,
	}))
}

// respondWrite renders a write outcome. A confirmed write whose re-read
// failed is still a success; the refresh error travels in the body.
func (s *Server) respondWrite(w http.ResponseWriter, r *http.Request) func(*service.WriteResult, error) {
	return func(result *service.WriteResult, err error) {
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := parseJSONBody(r, v); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	return true
}

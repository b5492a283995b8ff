package api

import (
	"net/http"

	"github.com/asset-registry/internal/address"
	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/types"
)

// SwitchAccountRequest selects the session account
type SwitchAccountRequest struct {
	Account types.Account `json:"account"`
}

// handleGetSession returns the session state, snapshot and pending writes
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.session.Status())
}

// handleSwitchAccount connects the signer to an account and reconciles it
func (s *Server) handleSwitchAccount(w http.ResponseWriter, r *http.Request) {
	var req SwitchAccountRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if !address.IsValid(req.Account) {
		respondServiceError(w, r, apperrors.NewInvalidAddressError(string(req.Account)))
		return
	}

	if s.wallet != nil {
		if err := s.wallet.Connect(req.Account); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}

	if _, err := s.session.SwitchAccount(r.Context(), req.Account); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.session.Status())
}

// handleDisconnect drops the session account
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.wallet != nil {
		s.wallet.Disconnect()
	}
	s.session.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh reconciles the session account again
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if _, err := s.session.Refresh(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.session.Status())
}

// handleListAccounts lists the accounts the signer can connect
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := []types.Account{}
	if s.wallet != nil {
		accounts = s.wallet.Accounts()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"current":  s.session.Status().Account,
	})
}

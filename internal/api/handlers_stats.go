package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/asset-registry/internal/address"
	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/types"
	"github.com/gorilla/mux"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// handleStats returns contract-wide totals
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totals, err := s.session.Totals(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, totals)
}

// handleGetPublishedSnapshot returns the last snapshot published for an
// account. It never reads the ledger.
func (s *Server) handleGetPublishedSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		respondServiceError(w, r, apperrors.NewUnsupportedError("snapshot store"))
		return
	}

	account := types.Account(mux.Vars(r)["address"])
	if !address.IsValid(account) {
		respondServiceError(w, r, apperrors.NewInvalidAddressError(string(account)))
		return
	}

	snapshot, ok, err := s.snapshots.Get(r.Context(), account)
	if err != nil {
		respondServiceError(w, r, apperrors.NewInternalError("snapshot store read failed", err))
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "No snapshot published for account", map[string]interface{}{
			"account": address.Checksum(account),
		})
		return
	}

	ttl, err := s.snapshots.ExpiresIn(r.Context(), account)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Debug("Snapshot ttl unavailable")
	} else if ttl > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int64(ttl/time.Second)))
	}
	respondJSON(w, http.StatusOK, snapshot)
}

// handleRecentSnapshots lists accounts with a live published snapshot
func (s *Server) handleRecentSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		respondServiceError(w, r, apperrors.NewUnsupportedError("snapshot store"))
		return
	}

	limit := int64(defaultRecentLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 || n > maxRecentLimit {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("limit", "limit must be between 1 and 100"))
			return
		}
		limit = n
	}

	accounts, err := s.snapshots.Recent(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, apperrors.NewInternalError("snapshot store read failed", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
	})
}

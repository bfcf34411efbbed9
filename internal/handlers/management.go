package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/otcheredev/pacs-node/internal/models"
	"github.com/otcheredev/pacs-node/internal/repository"
	"github.com/otcheredev/pacs-node/internal/services"
)

// ManagementHandler serves the admin API: peer registration, the stored
// instance index and the association audit trail.
type ManagementHandler struct {
	aeService    *services.AEService
	instanceRepo *repository.InstanceRepository
	assocRepo    *repository.AssociationRepository
}

// NewManagementHandler creates a new management handler
func NewManagementHandler(aeService *services.AEService, instanceRepo *repository.InstanceRepository, assocRepo *repository.AssociationRepository) *ManagementHandler {
	return &ManagementHandler{
		aeService:    aeService,
		instanceRepo: instanceRepo,
		assocRepo:    assocRepo,
	}
}

// CreatePeer registers a known application entity
func (h *ManagementHandler) CreatePeer(w http.ResponseWriter, r *http.Request) {
	var req models.KnownAERequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ae, err := h.aeService.CreateAE(r.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Failed to create peer")
		http.Error(w, "Failed to create peer", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ae)
}

// GetPeer retrieves a registered peer
func (h *ManagementHandler) GetPeer(w http.ResponseWriter, r *http.Request) {
	id, ok := peerID(w, r)
	if !ok {
		return
	}

	ae, err := h.aeService.GetAE(r.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Peer not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("Failed to get peer")
		http.Error(w, "Failed to get peer", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ae)
}

// ListPeers retrieves all registered peers, active and inactive
func (h *ManagementHandler) ListPeers(w http.ResponseWriter, r *http.Request) {
	aes, err := h.aeService.ListAEs(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list peers")
		http.Error(w, "Failed to list peers", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(aes)
}

// UpdatePeer updates a registered peer
func (h *ManagementHandler) UpdatePeer(w http.ResponseWriter, r *http.Request) {
	id, ok := peerID(w, r)
	if !ok {
		return
	}

	var req models.KnownAERequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ae, err := h.aeService.UpdateAE(r.Context(), id, &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Peer not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("Failed to update peer")
		http.Error(w, "Failed to update peer", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ae)
}

// DeletePeer removes a registered peer
func (h *ManagementHandler) DeletePeer(w http.ResponseWriter, r *http.Request) {
	id, ok := peerID(w, r)
	if !ok {
		return
	}

	if err := h.aeService.DeleteAE(r.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Peer not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("Failed to delete peer")
		http.Error(w, "Failed to delete peer", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// EchoPeer sends a C-ECHO to a registered peer and reports the result
func (h *ManagementHandler) EchoPeer(w http.ResponseWriter, r *http.Request) {
	id, ok := peerID(w, r)
	if !ok {
		return
	}

	status, err := h.aeService.EchoPeer(r.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Peer not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("Failed to echo peer")
		http.Error(w, "Failed to echo peer", http.StatusInternalServerError)
		return
	}

	// Return 200 even when the peer is unreachable; the payload carries
	// is_connected and the error message
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// ListInstances retrieves a page of the stored instance index
func (h *ManagementHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	instances, err := h.instanceRepo.List(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list instances")
		http.Error(w, "Failed to list instances", http.StatusInternalServerError)
		return
	}

	total, err := h.instanceRepo.Count(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to count instances")
		http.Error(w, "Failed to count instances", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total":     total,
		"limit":     limit,
		"offset":    offset,
		"instances": instances,
	})
}

// GetInstance retrieves index metadata for one stored instance
func (h *ManagementHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	sopInstanceUID := chi.URLParam(r, "sopInstanceUID")

	instance, err := h.instanceRepo.GetBySOPInstanceUID(r.Context(), sopInstanceUID)
	if err != nil {
		log.Error().Err(err).Str("sop_instance_uid", sopInstanceUID).Msg("Failed to get instance")
		http.Error(w, "Failed to get instance", http.StatusInternalServerError)
		return
	}
	if instance == nil {
		http.Error(w, "Instance not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(instance)
}

// DownloadInstance streams the stored file for one instance
func (h *ManagementHandler) DownloadInstance(w http.ResponseWriter, r *http.Request) {
	sopInstanceUID := chi.URLParam(r, "sopInstanceUID")

	instance, err := h.instanceRepo.GetBySOPInstanceUID(r.Context(), sopInstanceUID)
	if err != nil {
		log.Error().Err(err).Str("sop_instance_uid", sopInstanceUID).Msg("Failed to get instance")
		http.Error(w, "Failed to get instance", http.StatusInternalServerError)
		return
	}
	if instance == nil {
		http.Error(w, "Instance not found", http.StatusNotFound)
		return
	}

	f, err := os.Open(instance.FilePath)
	if err != nil {
		log.Error().Err(err).Str("file_path", instance.FilePath).Msg("Failed to open instance file")
		http.Error(w, "Failed to open instance file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/dicom")
	w.Header().Set("Content-Length", strconv.FormatInt(instance.SizeBytes, 10))
	io.Copy(w, f)
}

// ListAssociations retrieves a page of the association audit trail
func (h *ManagementHandler) ListAssociations(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	logs, err := h.assocRepo.List(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list associations")
		http.Error(w, "Failed to list associations", http.StatusInternalServerError)
		return
	}

	total, err := h.assocRepo.Count(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to count associations")
		http.Error(w, "Failed to count associations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total":        total,
		"limit":        limit,
		"offset":       offset,
		"associations": logs,
	})
}

func peerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid peer ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// pagination reads limit and offset query parameters with bounds applied
func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

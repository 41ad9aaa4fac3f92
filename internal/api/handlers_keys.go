package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"rentgate/internal/models"
	"rentgate/internal/storage"

	"github.com/gorilla/mux"
)

// findAPIKey returns a copy of the key with id. Storage indexes keys by hash,
// so this scans the list.
func (h *Handlers) findAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	keys, err := h.storage.ListAPIKeys(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.ID == id {
			c := *k
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListAPIKeys handles GET /admin/v1/keys
func (h *Handlers) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.storage.ListAPIKeys(r.Context())
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to list keys")
		return
	}
	resp := models.ListAPIKeysResponse{
		Keys:       make([]models.APIKeyResponse, 0, len(keys)),
		TotalCount: len(keys),
	}
	for _, k := range keys {
		resp.Keys = append(resp.Keys, models.NewAPIKeyResponse(k))
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// CreateAPIKey handles POST /admin/v1/keys. The raw key appears in this
// response only.
func (h *Handlers) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAPIKeyRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	rawKey, err := models.GenerateAPIKey()
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to generate key")
		return
	}

	key := models.NewAPIKey(models.NewKeyID(), strings.TrimSpace(req.Name), rawKey, req.Permissions)
	if err := h.storage.CreateAPIKey(r.Context(), key); err != nil {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to create key")
		return
	}

	audit(r, "API key created", "create_key",
		"key_id", key.ID,
		"key_name", key.Name,
		"permissions", key.Permissions,
	)

	h.writeJSONResponse(w, http.StatusCreated, models.CreateAPIKeyResponse{
		APIKeyResponse: models.NewAPIKeyResponse(key),
		Key:            rawKey,
	})
}

// UpdateAPIKey handles PATCH /admin/v1/keys/{id}. A caller cannot disable its
// own key or drop its own admin permission.
func (h *Handlers) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.UpdateAPIKeyRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	key, err := h.findAPIKey(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeErrorResponse(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Key not found")
		return
	}
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to fetch keys")
		return
	}

	if id == actorKeyID(r) {
		if req.Enabled != nil && !*req.Enabled {
			h.writeErrorResponse(w, r, http.StatusConflict, models.ErrorCodeConflict, "Cannot disable the key used for this request")
			return
		}
		if req.Permissions != nil {
			demoted := models.APIKey{Enabled: true, Permissions: req.Permissions}
			if !demoted.HasPermission(models.PermissionAdmin) {
				h.writeErrorResponse(w, r, http.StatusConflict, models.ErrorCodeConflict, "Cannot remove admin from the key used for this request")
				return
			}
		}
	}

	if req.Name != nil {
		key.Name = strings.TrimSpace(*req.Name)
	}
	if req.Permissions != nil {
		key.Permissions = req.Permissions
	}
	if req.Enabled != nil {
		key.Enabled = *req.Enabled
	}
	key.UpdatedAt = time.Now().UTC()

	if err := h.storage.UpdateAPIKey(r.Context(), key); err != nil {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to update key")
		return
	}

	audit(r, "API key updated", "update_key",
		"key_id", key.ID,
		"key_name", key.Name,
		"enabled", key.Enabled,
	)
	h.writeJSONResponse(w, http.StatusOK, models.NewAPIKeyResponse(key))
}

// DeleteAPIKey handles DELETE /admin/v1/keys/{id}
func (h *Handlers) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == actorKeyID(r) {
		h.writeErrorResponse(w, r, http.StatusConflict, models.ErrorCodeConflict, "Cannot delete the key used for this request")
		return
	}

	err := h.storage.DeleteAPIKey(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeErrorResponse(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Key not found")
		return
	case err != nil:
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to delete key")
		return
	}

	audit(r, "API key deleted", "delete_key", "key_id", id)
	w.WriteHeader(http.StatusNoContent)
}

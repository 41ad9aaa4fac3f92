package api

import (
	"net/http"

	"rentgate/internal/models"
	"rentgate/internal/policy"

	"github.com/gorilla/mux"
)

func statusToResponse(st policy.Status) models.PolicyResponse {
	return models.NewPolicyResponse(st.Policy, st.Overridden, st.TrackedKeys)
}

// ListPolicies handles GET /admin/v1/policies
func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.policies.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := models.ListPoliciesResponse{
		Policies:   make([]models.PolicyResponse, 0, len(statuses)),
		TotalCount: len(statuses),
	}
	for _, st := range statuses {
		resp.Policies = append(resp.Policies, statusToResponse(st))
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// GetPolicy handles GET /admin/v1/policies/{name}
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	st, err := h.policies.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, statusToResponse(*st))
}

// UpdatePolicy handles PUT /admin/v1/policies/{name}
// The new limits apply immediately; live counters of the policy are dropped.
func (h *Handlers) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req models.UpdatePolicyRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	st, err := h.policies.Update(r.Context(), name, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	audit(r, "Policy override saved", "update_policy",
		"policy", name,
		"max_requests", st.Policy.MaxRequests,
		"window", st.Policy.Window.String(),
	)
	h.writeJSONResponse(w, http.StatusOK, statusToResponse(*st))
}

// ResetPolicyDefaults handles DELETE /admin/v1/policies/{name}
func (h *Handlers) ResetPolicyDefaults(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	st, err := h.policies.Reset(r.Context(), name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	audit(r, "Policy override removed", "reset_policy", "policy", name)
	h.writeJSONResponse(w, http.StatusOK, statusToResponse(*st))
}

// ListBuckets handles GET /admin/v1/policies/{name}/buckets
func (h *Handlers) ListBuckets(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	st, err := h.policies.Get(r.Context(), name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	records, err := h.policies.Buckets(r.Context(), name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := models.ListBucketsResponse{
		Policy:     name,
		Buckets:    make([]models.BucketResponse, 0, len(records)),
		TotalCount: len(records),
	}
	for _, rec := range records {
		resp.Buckets = append(resp.Buckets, models.BucketResponse{
			Key:       rec.Key,
			Count:     rec.Count,
			Remaining: max(0, st.Policy.MaxRequests-rec.Count),
			ResetAt:   rec.ResetAt,
		})
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// ResetBuckets handles DELETE /admin/v1/policies/{name}/buckets
func (h *Handlers) ResetBuckets(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	n, err := h.policies.ResetPolicy(r.Context(), name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	audit(r, "Rate limit counters cleared", "reset_buckets", "policy", name, "removed", n)
	h.writeJSONResponse(w, http.StatusOK, models.ResetResponse{
		Policy:  name,
		Removed: n,
		Message: "counters reset",
	})
}

// ResetBucket handles DELETE /admin/v1/policies/{name}/buckets/{key}
func (h *Handlers) ResetBucket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]
	key := vars["key"]
	if key == "" {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid bucket key")
		return
	}

	removed, err := h.policies.ResetKey(r.Context(), name, key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !removed {
		h.writeErrorResponse(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "No counter for key")
		return
	}

	audit(r, "Rate limit counter cleared", "reset_bucket", "policy", name, "key", key)
	h.writeJSONResponse(w, http.StatusOK, models.ResetResponse{
		Policy:  name,
		Key:     key,
		Removed: 1,
		Message: "counter reset",
	})
}

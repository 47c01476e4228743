package api

import (
	"net/http"
	"strings"

	"github.com/warp/sales-engine/crm"
)

// RoleHeader carries the caller's role. Authentication happens upstream.
const RoleHeader = "X-Role"

// AccessGate decides whether role may perform operation on an entity type.
// ownerID is the owner of the target record, empty for lists and creates.
type AccessGate interface {
	Allow(role string, entityType crm.EntityType, operation, ownerID string) bool
}

// AllowAll permits everything.
type AllowAll struct{}

func (AllowAll) Allow(string, crm.EntityType, string, string) bool { return true }

// RoleGate grants each role a set of "entity:operation" permissions.
// Either side may be "*". Unknown roles are denied.
type RoleGate map[string][]string

func (g RoleGate) Allow(role string, entityType crm.EntityType, operation, _ string) bool {
	for _, perm := range g[role] {
		ent, op, ok := strings.Cut(perm, ":")
		if !ok {
			continue
		}
		if (ent == "*" || ent == string(entityType)) && (op == "*" || op == operation) {
			return true
		}
	}
	return false
}

// ownerRef reads only the owner of a stored record.
type ownerRef struct {
	OwnerID string `json:"ownerid"`
}

// allow consults the gate and writes 403 on deny. Records that cannot be
// loaded are let through so the service reports the real error.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, t crm.EntityType, operation, id string) bool {
	owner := ""
	if id != "" {
		if ref, err := crm.Load[ownerRef](r.Context(), h.Engine.Store, t, id); err == nil {
			owner = ref.OwnerID
		}
	}
	role := r.Header.Get(RoleHeader)
	if h.Gate.Allow(role, t, operation, owner) {
		return true
	}
	h.logger().Warn("access denied", "role", role, "entity", t, "operation", operation, "id", id)
	writeJSON(w, http.StatusForbidden, ErrorResponse{
		Error: "forbidden",
		Code:  "forbidden",
	})
	return false
}

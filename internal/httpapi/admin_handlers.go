package httpapi

import (
	"net/http"
	"strings"

	"corebank.io/internal/auth"
)

type createUserRequest struct {
	Username   string `json:"username" validate:"required,min=3,max=64"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=12,max=128"`
	CustomerID string `json:"customer_id" validate:"max=64"`
	Role       string `json:"role" validate:"omitempty,oneof=ADMIN MANAGER CUSTOMER SUPPORT AUDITOR"`
}

type roleChangeRequest struct {
	Role string `json:"role" validate:"required,oneof=ADMIN MANAGER CUSTOMER SUPPORT AUDITOR"`
}

type lockRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermRolesManage, nil) {
		return
	}
	roles, err := a.rbac.ListRoles(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersManage, nil) {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid user payload")
		return
	}

	user, err := a.rbac.CreateUser(r.Context(), req.Username, req.Email, req.Password, req.CustomerID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	if req.Role != "" {
		if err := a.rbac.AssignRole(r.Context(), user.ID, req.Role); err != nil {
			writeAuthError(w, r, err)
			return
		}
	}
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

// handleUserScoped dispatches /v1/users/{id}/<action>.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]

	switch parts[1] {
	case "lock":
		a.handleLock(w, r, userID)
	case "unlock":
		a.handleUnlock(w, r, userID)
	case "revoke-sessions":
		a.handleRevokeSessions(w, r, userID)
	case "roles":
		a.handleUserRoles(w, r, userID)
	case "permissions":
		a.handleUserPermissions(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleLock(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersManage, nil) {
		return
	}
	var req lockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		req = lockRequest{}
	}
	if err := a.svc.LockAccount(r.Context(), userID, req.Reason); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUnlock(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersManage, nil) {
		return
	}
	var req lockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		req = lockRequest{}
	}
	if err := a.svc.UnlockAccount(r.Context(), userID, req.Reason); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeSessions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersManage, nil) {
		return
	}
	n, err := a.svc.RevokeAllSessions(r.Context(), userID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost, http.MethodDelete:
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, auth.PermRolesManage, nil) {
		return
	}
	var req roleChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "role must name a builtin role")
		return
	}

	var err error
	if r.Method == http.MethodPost {
		err = a.rbac.AssignRole(r.Context(), userID, req.Role)
	} else {
		err = a.rbac.RemoveRole(r.Context(), userID, req.Role)
	}
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersManage, nil) {
		return
	}
	perms, err := a.rbac.UserPermissions(r.Context(), userID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "permissions": perms})
}

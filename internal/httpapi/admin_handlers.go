package httpapi

import (
	"net/http"

	"hmsauth.org/internal/ids"
)

type assignRolesRequest struct {
	Roles []string `json:"roles"`
}

// pathID returns the {id} path value, answering 404 itself when it cannot be
// an account id.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !ids.Valid(id) {
		writeError(w, r, http.StatusNotFound, "not found")
		return "", false
	}
	return id, true
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	views, err := a.svc.ListAccounts(r.Context())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := a.svc.GetAccount(r.Context(), id)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleGetUserByEmail(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.GetAccountByEmail(r.Context(), r.PathValue("email"))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles := a.svc.ListRoles()
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": names})
}

func (a *API) handleEnableUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := a.svc.EnableAccount(r.Context(), id)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleDisableUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := a.svc.DisableAccount(r.Context(), id)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req assignRolesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, err := a.svc.AssignRoles(r.Context(), id, req.Roles)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleAddRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := a.svc.AddRole(r.Context(), id, r.PathValue("role"))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := a.svc.RemoveRole(r.Context(), id, r.PathValue("role"))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

package api

import (
	"errors"
	"net/http"

	"learnhub-media/internal/auth"
)

const roleAdmin = "admin"

var errForbidden = errors.New("forbidden")

func (h *Handler) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		if h.AllowAnonymous {
			return auth.Principal{}, true
		}
		WriteError(w, http.StatusUnauthorized, auth.ErrMissingToken)
		return auth.Principal{}, false
	}
	return principal, true
}

// canManage reports whether principal may modify an asset owned by owner.
// Anonymous assets are manageable by any caller.
func canManage(principal auth.Principal, owner int64) bool {
	if owner == 0 || principal.HasRole(roleAdmin) {
		return true
	}
	return principal.UserID == owner
}

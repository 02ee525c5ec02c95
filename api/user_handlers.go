package api

import (
	"net/http"

	"github.com/funstudy/funstudy/users"
)

// GetProfile handles GET /api/user/profile.
func (a *API) GetProfile(w http.ResponseWriter, r *http.Request) {
	sub := sessionFromContext(r.Context()).session.User.Sub
	u, err := a.users.Get(r.Context(), sub)
	if err != nil {
		a.fail(w, r, "load profile failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Success: true, User: u})
}

// UpdateProfile handles PUT /api/user/profile.
func (a *API) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	sub := sessionFromContext(r.Context()).session.User.Sub
	req, ok := decodeJSON[UpdateProfileRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	u, err := a.users.UpdateProfile(r.Context(), sub, users.ProfileUpdate{
		GradeLevel:  req.GradeLevel,
		Preferences: req.Preferences,
	})
	if err != nil {
		a.fail(w, r, "update profile failed", err)
		return
	}
	a.audit.logEvent(AuditProfileUpdated, r, sub)
	writeJSON(w, http.StatusOK, ProfileResponse{Success: true, User: u})
}

// ListAttempts handles GET /api/user/attempts.
func (a *API) ListAttempts(w http.ResponseWriter, r *http.Request) {
	sub := sessionFromContext(r.Context()).session.User.Sub
	attempts, err := a.quiz.ListAttempts(r.Context(), sub)
	if err != nil {
		a.fail(w, r, "list attempts failed", err)
		return
	}
	limit, offset := parsePagination(r)
	start, end, meta := paginateSlice(len(attempts), limit, offset)
	page := attempts[start:end]
	writeJSON(w, http.StatusOK, AttemptsResponse{
		Success:    true,
		Attempts:   page,
		Count:      len(page),
		Pagination: meta,
	})
}

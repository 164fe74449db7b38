package services

import "net/http"

// CallerID extracts the authenticated caller's user id placed in the request
// context by the auth middleware. Coordinators always receive the caller as
// an explicit argument; this is the only place the context is consulted.
func CallerID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value("userID").(int64)
	return id, ok
}

// CallerRole extracts the authenticated caller's role.
func CallerRole(r *http.Request) string {
	role, _ := r.Context().Value("role").(string)
	return role
}

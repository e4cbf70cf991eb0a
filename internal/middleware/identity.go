package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dukerupert/homebase/internal/auth"
)

// Headers set by the upstream identity collaborator.
const (
	HouseholdHeader = "X-Household-ID"
	UserHeader      = "X-User-ID"
)

// RequireIdentity populates the AuthContext from the identity headers and
// rejects requests that lack them.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		householdID, err1 := strconv.ParseInt(r.Header.Get(HouseholdHeader), 10, 64)
		userID, err2 := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
		ac := auth.AuthContext{UserID: userID, HouseholdID: householdID}
		if err1 != nil || err2 != nil || !ac.Valid() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "missing or invalid identity"})
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
	})
}

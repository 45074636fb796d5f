package endpoints

import (
	"net/http"
	"strings"
)

// ExtractTokenFromHeaders pulls the bearer token out of the Authorization
// header. Returns "" when the header is absent or not a bearer scheme.
func ExtractTokenFromHeaders(r *http.Request) string {
	tokenString := r.Header.Get("Authorization")

	if !strings.HasPrefix(tokenString, "Bearer ") {
		return ""
	}

	return strings.TrimSpace(tokenString[len("Bearer "):])
}

// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// ErrUnauthorized marks requests without an acting user.
var ErrUnauthorized = errors.New("unauthorized")

// RespondError writes an RFC7807 response for err. Unknown errors become a
// 500 without detail so internals do not leak.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "X-Actor-ID header required")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

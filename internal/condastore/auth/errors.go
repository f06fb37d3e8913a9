package auth

import (
	"net/http"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
)

var (
	ErrAuth apperrors.Error = apperrors.New("authorization error").SetStatusCode(http.StatusForbidden)

	// ErrDisallowedByPolicy is returned when the caller's effective
	// permissions do not contain the required set. The message never names
	// the specific missing permission.
	ErrDisallowedByPolicy apperrors.Error = ErrAuth.New("insufficient permissions").SetStatusCode(http.StatusForbidden)

	ErrUnauthenticated apperrors.Error = ErrAuth.New("invalid or expired token").SetStatusCode(http.StatusUnauthorized)

	ErrInvalidRole    apperrors.Error = ErrAuth.New("invalid role").SetStatusCode(http.StatusBadRequest)
	ErrInvalidPattern apperrors.Error = ErrAuth.New("invalid role binding pattern").SetStatusCode(http.StatusBadRequest)

	// ErrTokenEscalation is returned when a minted token requests bindings
	// broader than the issuing entity holds.
	ErrTokenEscalation apperrors.Error = ErrAuth.New("requested role bindings exceed issuer permissions").SetStatusCode(http.StatusBadRequest)
)

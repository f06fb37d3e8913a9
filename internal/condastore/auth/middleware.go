package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

// AuthMiddleware resolves the caller's identity. A bearer token (or a
// "token" query parameter, used by direct artifact downloads) is verified
// and placed on the context as the entity; an invalid token fails the
// request. Requests without a token proceed anonymously and receive only
// the configured unauthenticated bindings.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tokenString := bearerToken(r)
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}

		entity, err := ParseAndValidateToken(ctx, tokenString)
		if err != nil {
			log.Ctx(ctx).Debug().Err(err).Msg("token validation failed")
			httpx.SendError(w, ErrUnauthenticated)
			return
		}

		ctx = storecommon.WithEntity(ctx, entity)
		log.Ctx(ctx).Debug().Str("principal", entity.Principal).Msg("authenticated request")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

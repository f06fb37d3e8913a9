package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/common/uuid"
	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

const tokenVersion = "0.1"

// RequiredClaims is a list of claims that must be present in the token
var RequiredClaims = []string{
	"sub",
	"role_bindings",
	"iss",
	"jti",
	"exp",
	"iat",
	"ver",
}

// CreateToken mints an API token for principal carrying the requested role
// bindings. The requested bindings must be a per-pattern subset of the
// caller's effective bindings; anything broader fails with
// ErrTokenEscalation. A zero validity uses the configured default, and the
// token never outlives the caller's own token.
func CreateToken(ctx context.Context, principal string, requested Bindings, validity time.Duration) (string, time.Time, apperrors.Error) {
	if len(requested) == 0 {
		return "", time.Time{}, ErrInvalidPattern.Msg("token requires at least one role binding")
	}
	for pattern, role := range requested {
		if _, err := ParseArn(pattern); err != nil {
			return "", time.Time{}, err
		}
		parsed, err := ParseRole(string(role))
		if err != nil {
			return "", time.Time{}, err
		}
		requested[pattern] = parsed
	}

	issuerBindings, err := GetEntityBindings(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	if !IsSubsetEntityPermissions(issuerBindings, requested) {
		return "", time.Time{}, ErrTokenEscalation
	}

	if validity <= 0 {
		d, goerr := config.Config().Auth.GetDefaultTokenValidity()
		if goerr != nil {
			log.Ctx(ctx).Error().Err(goerr).Msg("unable to parse token duration")
			return "", time.Time{}, ErrAuth.MsgErr("unable to parse token duration", goerr)
		}
		validity = d
	}

	expiry := time.Now().Add(validity)
	if entity := storecommon.GetEntity(ctx); entity != nil && !entity.ExpiresAt.IsZero() && expiry.After(entity.ExpiresAt) {
		expiry = entity.ExpiresAt
	}

	bindings := make(map[string]string, len(requested))
	for pattern, role := range requested {
		bindings[pattern] = string(role)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":           principal,
		"role_bindings": bindings,
		"iss":           tokenIssuer(),
		"jti":           uuid.New().String(),
		"exp":           expiry.Unix(),
		"iat":           now.Unix(),
		"nbf":           now.Unix(),
		"ver":           tokenVersion,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, goerr := token.SignedString([]byte(config.Config().Auth.TokenSecret))
	if goerr != nil {
		log.Ctx(ctx).Error().Err(goerr).Msg("unable to sign token")
		return "", time.Time{}, ErrAuth.MsgErr("unable to sign token", goerr)
	}

	return signed, expiry, nil
}

// ParseAndValidateToken verifies a token string and resolves it to the
// entity it represents.
func ParseAndValidateToken(ctx context.Context, tokenString string) (*storecommon.Entity, apperrors.Error) {
	token, parseErr := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.Config().Auth.TokenSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(config.Config().Auth.GetClockSkewOrDefault()))

	if parseErr != nil {
		log.Ctx(ctx).Debug().Err(parseErr).Msg("failed to parse token")
		return nil, ErrUnauthenticated.Err(parseErr)
	}
	if !token.Valid {
		return nil, ErrUnauthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthenticated
	}

	for _, claim := range RequiredClaims {
		if _, ok := claims[claim]; !ok {
			log.Ctx(ctx).Debug().Str("claim", claim).Msg("missing required claim")
			return nil, ErrUnauthenticated.Msg("missing required claim: " + claim)
		}
	}

	if ver, _ := claims["ver"].(string); ver != tokenVersion {
		return nil, ErrUnauthenticated.Msg("invalid token version")
	}

	if iss, _ := claims["iss"].(string); iss != tokenIssuer() {
		return nil, ErrUnauthenticated.Msg("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return nil, ErrUnauthenticated.Msg("missing or invalid sub claim")
	}

	rawBindings, ok := claims["role_bindings"].(map[string]any)
	if !ok {
		return nil, ErrUnauthenticated.Msg("missing or invalid role_bindings claim")
	}
	bindings := make(map[string]storecommon.RoleName, len(rawBindings))
	for pattern, v := range rawBindings {
		roleName, ok := v.(string)
		if !ok {
			return nil, ErrUnauthenticated.Msg("invalid role binding for pattern " + pattern)
		}
		role, err := ParseRole(roleName)
		if err != nil {
			return nil, ErrUnauthenticated.Msg("invalid role binding for pattern " + pattern)
		}
		bindings[pattern] = role
	}

	exp, _ := claims["exp"].(float64)

	return &storecommon.Entity{
		Principal:    sub,
		RoleBindings: bindings,
		ExpiresAt:    time.Unix(int64(exp), 0),
	}, nil
}

func tokenIssuer() string {
	return config.Config().ServerHostName + ":" + config.Config().ServerPort
}

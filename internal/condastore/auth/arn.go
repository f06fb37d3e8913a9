package auth

import (
	"regexp"
	"strings"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
)

// Arn addresses a resource as "namespace/environment". The environment
// segment is optional; a bare namespace addresses the namespace itself. In a
// pattern, either segment may be "*", a full-segment wildcard. Mid-segment
// globbing is not supported.
type Arn struct {
	Namespace   string
	Environment string
}

var arnSegmentRegex = regexp.MustCompile(`^[A-Za-z0-9_*-]+$`)

// ParseArn parses and validates an ARN or ARN pattern.
func ParseArn(s string) (Arn, apperrors.Error) {
	if s == "" {
		return Arn{}, ErrInvalidPattern.Msg("empty arn")
	}
	parts := strings.Split(s, "/")
	if len(parts) > 2 {
		return Arn{}, ErrInvalidPattern.Msg("invalid arn: " + s)
	}
	for _, part := range parts {
		if !arnSegmentRegex.MatchString(part) {
			return Arn{}, ErrInvalidPattern.Msg("invalid arn: " + s)
		}
	}
	arn := Arn{Namespace: parts[0]}
	if len(parts) == 2 {
		arn.Environment = parts[1]
	}
	return arn, nil
}

// String renders the ARN back to its wire form.
func (a Arn) String() string {
	if a.Environment == "" {
		return a.Namespace
	}
	return a.Namespace + "/" + a.Environment
}

// Matches reports whether the pattern a matches the target ARN. Each pattern
// segment matches when it is "*" or equals the target segment. A target
// without an environment segment (namespace-level check) is matched on the
// namespace segment alone.
func (a Arn) Matches(target Arn) bool {
	if a.Namespace != "*" && a.Namespace != target.Namespace {
		return false
	}
	if target.Environment == "" {
		return true
	}
	if a.Environment == "" {
		// Namespace-level pattern grants over every environment in the
		// namespace.
		return true
	}
	return a.Environment == "*" || a.Environment == target.Environment
}

// Covers reports whether pattern a grants at least everything pattern b
// grants: each segment of a is "*" or literally equal to b's segment. Used
// for the token-minting subset check, where a broader pattern with fewer
// permissions must stay incomparable to a narrower pattern with more.
func (a Arn) Covers(b Arn) bool {
	if a.Namespace != "*" && a.Namespace != b.Namespace {
		return false
	}
	aEnv, bEnv := a.Environment, b.Environment
	if aEnv == "" {
		aEnv = "*"
	}
	if bEnv == "" {
		bEnv = "*"
	}
	return aEnv == "*" || aEnv == bEnv
}

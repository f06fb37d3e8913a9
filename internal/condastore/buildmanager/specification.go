package buildmanager

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/anand-gl/jsoncanonicalizer"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
)

// CondaSpecification is the user-submitted environment definition. It
// accepts both YAML and JSON on the wire.
type CondaSpecification struct {
	Name         string         `json:"name" yaml:"name" validate:"required,envname"`
	Channels     []string       `json:"channels" yaml:"channels"`
	Dependencies []any          `json:"dependencies" yaml:"dependencies" validate:"required,min=1"`
	Variables    map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	Prefix       string         `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
}

var specValidator = func() *validator.Validate {
	v := validator.New()
	// Environment names share the namespace charset; no "/" or "*".
	must(v.RegisterValidation("envname", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		if name == "" || len(name) > 255 {
			return false
		}
		for _, r := range name {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			default:
				return false
			}
		}
		return true
	}))
	return v
}()

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// ParseSpecification decodes and validates a submitted specification. YAML
// is a superset of JSON, so one decoder handles both content types.
func ParseSpecification(data []byte) (*CondaSpecification, apperrors.Error) {
	var spec CondaSpecification
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, ErrInvalidSpecification.MsgErr("unable to parse specification", err)
	}
	if err := specValidator.Struct(&spec); err != nil {
		return nil, ErrInvalidSpecification.MsgErr("specification failed validation", err)
	}
	return &spec, nil
}

// CanonicalJSON renders the specification as RFC 8785 canonical JSON so the
// content hash is stable across key ordering and whitespace.
func (s *CondaSpecification) CanonicalJSON() ([]byte, apperrors.Error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, ErrInvalidSpecification.Err(err)
	}
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, ErrInvalidSpecification.MsgErr("unable to canonicalize specification", err)
	}
	return canonical, nil
}

// SHA256 is the content hash builds are deduplicated by.
func (s *CondaSpecification) SHA256() (string, apperrors.Error) {
	canonical, err := s.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

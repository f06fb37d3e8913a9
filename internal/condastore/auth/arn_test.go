package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArn(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Arn
		wantErr bool
	}{
		{"namespace only", "default", Arn{Namespace: "default"}, false},
		{"namespace and environment", "default/pytest1", Arn{Namespace: "default", Environment: "pytest1"}, false},
		{"wildcard namespace", "*/*", Arn{Namespace: "*", Environment: "*"}, false},
		{"wildcard environment", "team/*", Arn{Namespace: "team", Environment: "*"}, false},
		{"underscore and dash", "my-team/env_1", Arn{Namespace: "my-team", Environment: "env_1"}, false},
		{"empty", "", Arn{}, true},
		{"too many segments", "a/b/c", Arn{}, true},
		{"mid-segment glob", "pyt*st/env", Arn{Namespace: "pyt*st", Environment: "env"}, false},
		{"invalid characters", "team/env name", Arn{}, true},
		{"trailing slash", "team/", Arn{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArn(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestArnMatches(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		target  string
		want    bool
	}{
		{"exact match", "default/pytest1", "default/pytest1", true},
		{"wildcard environment", "default/*", "default/pytest1", true},
		{"wildcard namespace", "*/pytest1", "default/pytest1", true},
		{"full wildcard", "*/*", "team/anything", true},
		{"different environment", "default/pytest1", "default/pytest2", false},
		{"different namespace", "default/pytest1", "team/pytest1", false},
		{"namespace-level target", "default/pytest1", "default", true},
		{"namespace-level target no match", "default/pytest1", "team", false},
		{"namespace-only pattern grants all envs", "default", "default/pytest1", true},
		{"wildcard is full segment only", "pytest*/env", "pytest1/env", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern, err := ParseArn(tt.pattern)
			require.NoError(t, err)
			target, err := ParseArn(tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pattern.Matches(target))
		})
	}
}

func TestArnCovers(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{"identical", "default/pytest1", "default/pytest1", true},
		{"wildcard covers literal", "default/*", "default/pytest1", true},
		{"literal does not cover wildcard", "default/pytest1", "default/*", false},
		{"full wildcard covers everything", "*/*", "team/env", true},
		{"namespace-only equals wildcard environment", "default", "default/*", true},
		{"different namespaces", "default/*", "team/*", false},
		{"wildcard namespace covers literal", "*/env", "team/env", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseArn(tt.a)
			require.NoError(t, err)
			b, err := ParseArn(tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Covers(b))
		})
	}
}

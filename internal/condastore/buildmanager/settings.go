package buildmanager

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
)

// Settings is the hierarchical configuration stored in the key-value store.
// Values are resolved global -> namespace -> environment, narrower scope
// winning per key. Fields marked global-only may not be set at namespace or
// environment scope.
type Settings struct {
	DefaultNamespace string `json:"default_namespace" mapstructure:"default_namespace"`
	StorageThreshold int64  `json:"storage_threshold" mapstructure:"storage_threshold"`
	CondaCommand     string `json:"conda_command" mapstructure:"conda_command"`

	CondaChannelAlias     string   `json:"conda_channel_alias" mapstructure:"conda_channel_alias"`
	CondaDefaultChannels  []string `json:"conda_default_channels" mapstructure:"conda_default_channels"`
	CondaAllowedChannels  []string `json:"conda_allowed_channels" mapstructure:"conda_allowed_channels"`
	CondaIncludedPackages []string `json:"conda_included_packages" mapstructure:"conda_included_packages"`
	CondaRequiredPackages []string `json:"conda_required_packages" mapstructure:"conda_required_packages"`
	PipIncludedPackages   []string `json:"pip_included_packages" mapstructure:"pip_included_packages"`
	PipRequiredPackages   []string `json:"pip_required_packages" mapstructure:"pip_required_packages"`
}

// DefaultSettings are the values in effect before any stored overrides.
func DefaultSettings() Settings {
	return Settings{
		DefaultNamespace:     "default",
		CondaCommand:         "mamba",
		CondaChannelAlias:    "https://conda.anaconda.org",
		CondaDefaultChannels: []string{"conda-forge"},
	}
}

// globalOnlyKeys may only be set at global scope.
var globalOnlyKeys = map[string]bool{
	"default_namespace": true,
	"storage_threshold": true,
	"conda_command":     true,
}

const settingsPrefix = "setting"

// settingsScope maps (namespace, environment) onto a kvstore prefix:
// "setting", "setting/{ns}", or "setting/{ns}/{env}".
func settingsScope(namespace, environment string) (string, apperrors.Error) {
	if namespace == "" && environment != "" {
		return "", ErrInvalidSetting.Msg("environment scope requires a namespace")
	}
	parts := []string{settingsPrefix}
	if namespace != "" {
		parts = append(parts, namespace)
	}
	if environment != "" {
		parts = append(parts, environment)
	}
	return strings.Join(parts, "/"), nil
}

// SetSettings validates and writes setting overrides at the given scope.
// Unknown keys and wrongly typed values are rejected; global-only keys are
// rejected at namespace or environment scope.
func (m *Manager) SetSettings(ctx context.Context, namespace, environment string, data map[string]any) apperrors.Error {
	prefix, err := settingsScope(namespace, environment)
	if err != nil {
		return err
	}

	if namespace != "" {
		for key := range data {
			if globalOnlyKeys[key] {
				return ErrGlobalSetting.Msg("setting " + key + " is a global setting and cannot be set per namespace or environment")
			}
		}
	}

	// Decode against the Settings shape so unknown keys and type mismatches
	// fail before anything is written.
	var probe Settings
	decoder, goerr := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &probe,
		ErrorUnused: true,
	})
	if goerr != nil {
		return ErrBuildManager.Err(goerr)
	}
	if goerr := decoder.Decode(data); goerr != nil {
		return ErrInvalidSetting.MsgErr("invalid setting", goerr)
	}

	values := make(map[string][]byte, len(data))
	for key, value := range data {
		raw, goerr := json.Marshal(value)
		if goerr != nil {
			return ErrInvalidSetting.MsgErr("unable to encode setting "+key, goerr)
		}
		values[key] = raw
	}

	return db.DB(ctx).SetKeyValues(ctx, prefix, values, true)
}

// GetSettings resolves the effective settings at a scope by overlaying
// stored values, narrowest scope last, on the defaults.
func (m *Manager) GetSettings(ctx context.Context, namespace, environment string) (*Settings, apperrors.Error) {
	doc, err := m.settingsDocument(ctx, namespace, environment)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any)
	gjson.ParseBytes(doc).ForEach(func(key, value gjson.Result) bool {
		merged[key.String()] = value.Value()
		return true
	})

	settings := DefaultSettings()
	decoder, goerr := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &settings,
		WeaklyTypedInput: true,
	})
	if goerr != nil {
		return nil, ErrBuildManager.Err(goerr)
	}
	if goerr := decoder.Decode(merged); goerr != nil {
		return nil, ErrInvalidSetting.MsgErr("stored settings are malformed", goerr)
	}
	return &settings, nil
}

// GetSettingValue returns the effective raw JSON value of one key at a
// scope, or an empty result when only the default applies.
func (m *Manager) GetSettingValue(ctx context.Context, namespace, environment, key string) (gjson.Result, apperrors.Error) {
	doc, err := m.settingsDocument(ctx, namespace, environment)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.GetBytes(doc, key), nil
}

// settingsDocument builds one JSON document of stored overrides with the
// scope hierarchy applied.
func (m *Manager) settingsDocument(ctx context.Context, namespace, environment string) ([]byte, apperrors.Error) {
	if _, err := settingsScope(namespace, environment); err != nil {
		return nil, err
	}

	prefixes := []string{settingsPrefix}
	if namespace != "" {
		prefixes = append(prefixes, settingsPrefix+"/"+namespace)
		if environment != "" {
			prefixes = append(prefixes, settingsPrefix+"/"+namespace+"/"+environment)
		}
	}

	doc := []byte(`{}`)
	for _, prefix := range prefixes {
		values, err := db.DB(ctx).GetKeyValues(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for key, raw := range values {
			var goerr error
			doc, goerr = sjson.SetRawBytes(doc, key, raw)
			if goerr != nil {
				return nil, ErrBuildManager.Err(goerr)
			}
		}
	}
	return doc, nil
}

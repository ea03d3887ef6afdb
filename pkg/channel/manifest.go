package channel

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"
)

// SlotChannel is the plugin slot for chat channel adapters. Other slots
// (tools, providers) belong to the host and are opaque to this package.
const SlotChannel = "channel"

// Manifest describes a registered adapter for registry bookkeeping. It
// carries no runtime dispatch logic.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Slot        string `json:"slot"`
	Description string `json:"description,omitempty"`
}

// manifestSchema validates manifest documents before registration.
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version", "slot"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "slot": {"type": "string", "enum": ["channel", "tool", "provider"]},
    "description": {"type": "string"}
  },
  "additionalProperties": false
}`

var (
	manifestNameRegex = regexp.MustCompile(`^[a-z0-9-]+$`)
	semverRegex       = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	schemaLoader      = gojsonschema.NewStringLoader(manifestSchema)
)

// Validate checks the manifest against the embedded JSON schema plus the
// name and version format rules.
func (m Manifest) Validate() error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("manifest schema validation error: %w", err)
	}
	if !result.Valid() {
		var errMsg string
		for i, verr := range result.Errors() {
			if i > 0 {
				errMsg += "; "
			}
			errMsg += verr.String()
		}
		return fmt.Errorf("manifest schema validation failed: %s", errMsg)
	}

	if !manifestNameRegex.MatchString(m.Name) {
		return fmt.Errorf("invalid manifest name %q (must be lowercase alphanumeric with hyphens)", m.Name)
	}
	if !semverRegex.MatchString(m.Version) {
		return fmt.Errorf("invalid manifest version %q (must be semver: X.Y.Z)", m.Version)
	}
	return nil
}

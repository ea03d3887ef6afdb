package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantErr  string
	}{
		{
			name:     "valid channel manifest",
			manifest: Manifest{Name: "wsgateway", Version: "1.0.0", Slot: "channel", Description: "opcode gateway"},
		},
		{
			name:     "missing name",
			manifest: Manifest{Version: "1.0.0", Slot: "channel"},
			wantErr:  "name",
		},
		{
			name:     "missing version",
			manifest: Manifest{Name: "wsgateway", Slot: "channel"},
			wantErr:  "version",
		},
		{
			name:     "unknown slot",
			manifest: Manifest{Name: "wsgateway", Version: "1.0.0", Slot: "browser"},
			wantErr:  "slot",
		},
		{
			name:     "uppercase name rejected",
			manifest: Manifest{Name: "WSGateway", Version: "1.0.0", Slot: "channel"},
			wantErr:  "lowercase",
		},
		{
			name:     "non-semver version rejected",
			manifest: Manifest{Name: "wsgateway", Version: "v1", Slot: "channel"},
			wantErr:  "semver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

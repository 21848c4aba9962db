package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest AppManifest
		wantErr  bool
	}{
		{
			name:     "valid",
			manifest: AppManifest{Name: "calendar", Entrypoint: "index.html", WindowType: WindowPanel},
		},
		{
			name:     "uppercase name",
			manifest: AppManifest{Name: "Calendar", Entrypoint: "index.html", WindowType: WindowPanel},
			wantErr:  true,
		},
		{
			name:     "name with space",
			manifest: AppManifest{Name: "my app", Entrypoint: "index.html", WindowType: WindowWidget},
			wantErr:  true,
		},
		{
			name:     "missing entrypoint",
			manifest: AppManifest{Name: "notes", WindowType: WindowDialog},
			wantErr:  true,
		},
		{
			name:     "unknown window type",
			manifest: AppManifest{Name: "notes", Entrypoint: "main.qml", WindowType: "fullscreen"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseCapabilityValue(t *testing.T) {
	v, err := ParseCapabilityValue(true)
	require.NoError(t, err)
	assert.Equal(t, Allowed(), v)

	v, err = ParseCapabilityValue([]interface{}{"~/Documents", "~/Pictures"})
	require.NoError(t, err)
	assert.Equal(t, []string{"~/Documents", "~/Pictures"}, v.Scopes)
	assert.True(t, v.Enabled)

	v, err = ParseCapabilityValue("api.example.com")
	require.NoError(t, err)
	assert.Equal(t, Scoped("api.example.com"), v)

	_, err = ParseCapabilityValue([]interface{}{"ok", 42})
	assert.Error(t, err)

	_, err = ParseCapabilityValue(3.14)
	assert.Error(t, err)
}

func TestStatePredicates(t *testing.T) {
	live := map[State]bool{
		StateStarting: true, StateReady: true, StateActive: true,
		StatePaused: true, StateClosing: false, StateStopped: false,
	}
	for state, want := range live {
		assert.Equal(t, want, state.IsLive(), state)
	}

	assert.False(t, StateStarting.IsStacked())
	assert.True(t, StatePaused.IsStacked())
	assert.False(t, StateClosing.IsStacked())
}

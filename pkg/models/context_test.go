package models

import (
	"encoding/json"
	"testing"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/protocol"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func sampleContext() HostContext {
	id := protocol.NewNumberID(7)
	return HostContext{
		Theme:                 ThemeDark,
		Styles:                &HostStyles{Variables: map[string]string{"--color-background-primary": "#111"}},
		DisplayMode:           DisplayModeInline,
		AvailableDisplayModes: []DisplayMode{DisplayModeInline, DisplayModeFullscreen},
		ContainerDimensions:   &ContainerDimensions{Width: ptr(800.0), MaxHeight: ptr(600.0)},
		Locale:                "en-US",
		TimeZone:              "Europe/Paris",
		UserAgent:             "basic-host/1.0",
		Platform:              PlatformWeb,
		DeviceCapabilities:    &DeviceCapabilities{Touch: ptr(false), Hover: ptr(true)},
		SafeAreaInsets:        &SafeAreaInsets{Top: 10, Bottom: 20},
		ToolInfo: &ToolInfo{
			ID: &id,
			Tool: Tool{
				Name:        "generate_qr",
				InputSchema: protocol.MustValue(map[string]interface{}{"type": "object"}),
			},
		},
	}
}

var cmpContext = cmp.Options{
	cmp.AllowUnexported(protocol.RequestID{}),
	cmpopts.EquateEmpty(),
}

func TestHostContextRoundTrip(t *testing.T) {
	ctx := sampleContext()

	data, err := json.Marshal(ctx)
	require.NoError(t, err)

	var decoded HostContext
	require.NoError(t, json.Unmarshal(data, &decoded))

	if diff := cmp.Diff(ctx, decoded, cmpContext); diff != "" {
		t.Errorf("HostContext mismatch (-want +got):\n%s", diff)
	}
}

func TestHostContextPreservesUnknownKeys(t *testing.T) {
	raw := `{"theme":"light","futureField":{"nested":[1,2]},"locale":"fr-FR"}`

	var ctx HostContext
	require.NoError(t, json.Unmarshal([]byte(raw), &ctx))
	assert.Equal(t, ThemeLight, ctx.Theme)
	require.Contains(t, ctx.Extra, "futureField")

	data, err := json.Marshal(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(data))
}

func TestDiffHostContext(t *testing.T) {
	old := sampleContext()

	t.Run("unchanged", func(t *testing.T) {
		diff, err := DiffHostContext(old, old.Clone())
		require.NoError(t, err)
		assert.Empty(t, diff)
	})

	t.Run("changed fields only", func(t *testing.T) {
		updated := old.Clone()
		updated.Theme = ThemeLight
		updated.ContainerDimensions = &ContainerDimensions{Width: ptr(1024.0), MaxHeight: ptr(600.0)}

		diff, err := DiffHostContext(old, updated)
		require.NoError(t, err)
		assert.Equal(t, []string{"containerDimensions", "theme"}, diff.Keys())
		assert.JSONEq(t, `"light"`, string(diff["theme"]))
	})

	t.Run("new key", func(t *testing.T) {
		base := HostContext{Theme: ThemeDark}
		updated := HostContext{Theme: ThemeDark, Locale: "de-DE"}
		diff, err := DiffHostContext(base, updated)
		require.NoError(t, err)
		assert.Equal(t, []string{"locale"}, diff.Keys())
	})

	t.Run("removed key is not signaled", func(t *testing.T) {
		base := HostContext{Theme: ThemeDark, Locale: "de-DE"}
		updated := HostContext{Theme: ThemeDark}
		diff, err := DiffHostContext(base, updated)
		require.NoError(t, err)
		assert.Empty(t, diff)
	})

	t.Run("extras participate", func(t *testing.T) {
		base := HostContext{Extra: map[string]json.RawMessage{"x": json.RawMessage(`1`)}}
		updated := HostContext{Extra: map[string]json.RawMessage{"x": json.RawMessage(`2`)}}
		diff, err := DiffHostContext(base, updated)
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, diff.Keys())
	})
}

func TestHostContextMerge(t *testing.T) {
	ctx := sampleContext()
	updated := ctx.Clone()
	updated.Theme = ThemeLight
	updated.DisplayMode = DisplayModeFullscreen

	diff, err := DiffHostContext(ctx, updated)
	require.NoError(t, err)
	require.NoError(t, ctx.Merge(diff))

	if d := cmp.Diff(updated, ctx, cmpContext); d != "" {
		t.Errorf("merged context mismatch (-want +got):\n%s", d)
	}

	assert.NoError(t, ctx.Merge(nil))
	assert.Error(t, ctx.Merge(HostContextDiff{"theme": json.RawMessage(`42`)}))
}

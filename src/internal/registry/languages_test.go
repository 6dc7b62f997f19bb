package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveServerLanguage(t *testing.T) {
	tests := []struct {
		editor string
		server string
		ok     bool
	}{
		{"go", "go", true},
		{"python", "python", true},
		{"typescript", "typescript", true},
		{"javascript", "typescript", true},
		{"javascriptreact", "typescript", true},
		{"typescriptreact", "typescript", true},
		{"zig", "zig", true},
		{"rust", "rust", true},
		{"cobol", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		server, ok := ResolveServerLanguage(tt.editor)
		assert.Equal(t, tt.ok, ok, "language %q", tt.editor)
		assert.Equal(t, tt.server, server, "language %q", tt.editor)
	}
}

func TestLanguageByExtension(t *testing.T) {
	lang, ok := LanguageByExtension(".tsx")
	require.True(t, ok)
	assert.Equal(t, "typescriptreact", lang)

	_, ok = LanguageByExtension(".xyz")
	assert.False(t, ok)
}

func TestGetLanguageByName(t *testing.T) {
	info, ok := GetLanguageByName("python")
	require.True(t, ok)
	assert.Equal(t, "pylsp", info.DefaultCommand)
	require.Len(t, info.Fallbacks, 2)
	assert.Equal(t, "jedi-language-server", info.Fallbacks[0][0])

	_, ok = GetLanguageByName("javascript")
	assert.False(t, ok, "aliases are not registry entries")
}

func TestFallbackCommandsAreCopies(t *testing.T) {
	info, ok := GetLanguageByName("python")
	require.True(t, ok)

	cmds := info.FallbackCommands()
	require.NotEmpty(t, cmds)
	cmds[0][0] = "mutated"

	again := info.FallbackCommands()
	assert.NotEqual(t, "mutated", again[0][0])
}

func TestGetInitOptionsNeverNil(t *testing.T) {
	info, ok := GetLanguageByName("zig")
	require.True(t, ok)
	assert.NotNil(t, info.GetInitOptions())
	assert.True(t, info.PushOpenFiles)

	goInfo, ok := GetLanguageByName("go")
	require.True(t, ok)
	opts := goInfo.GetInitOptions()
	assert.Equal(t, true, opts["completeUnimported"])
}

package am

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findSetting(settings []SettingInfo, key string) (SettingInfo, bool) {
	for _, s := range settings {
		if s.Key == key {
			return s, true
		}
	}
	return SettingInfo{}, false
}

func TestIntrospectSources(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	path := writeConfig(t, t.TempDir(), "am.toml", `
[database]
path = "project.db"

[providers.virustotal]
api_key = "vt-0123456789"
`)
	t.Setenv("CYBERLENS_LOOKUP_TIMEOUT_MS", "42")

	loadMu.Lock()
	v := newViper([]string{path})
	sources := ConfigSources
	loadMu.Unlock()

	settings := introspect(v, sources)

	db, ok := findSetting(settings, "database.path")
	require.True(t, ok)
	assert.Equal(t, SourceProject, db.Source)
	assert.Equal(t, path, db.SourcePath)
	assert.Equal(t, "project.db", db.Value)

	timeout, ok := findSetting(settings, "lookup.timeout_ms")
	require.True(t, ok)
	assert.Equal(t, SourceEnvironment, timeout.Source)
	assert.Equal(t, "CYBERLENS_LOOKUP_TIMEOUT_MS", timeout.SourcePath)

	addr, ok := findSetting(settings, "server.addr")
	require.True(t, ok)
	assert.Equal(t, SourceDefault, addr.Source)

	key, ok := findSetting(settings, "providers.virustotal.api_key")
	require.True(t, ok)
	assert.Equal(t, "****6789", key.Value)
}

func TestIntrospectSorted(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	settings := introspect(newViper(nil), map[string]SourceInfo{})
	require.NotEmpty(t, settings)
	for i := 1; i < len(settings); i++ {
		assert.LessOrEqual(t, settings[i-1].Key, settings[i].Key)
	}
}

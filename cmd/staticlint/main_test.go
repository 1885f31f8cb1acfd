package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := loadConfig(filepath.Join(dir, Config))
	require.NoError(t, err)
	assert.Empty(t, cfg.Staticcheck)

	fileName := filepath.Join(dir, Config)
	require.NoError(t, os.WriteFile(fileName, []byte(`{"Staticcheck":["SA1000","SA4006"]}`), 0644))
	cfg, err = loadConfig(fileName)
	require.NoError(t, err)
	assert.Equal(t, []string{"SA1000", "SA4006"}, cfg.Staticcheck)

	require.NoError(t, os.WriteFile(fileName, []byte(`{`), 0644))
	_, err = loadConfig(fileName)
	assert.Error(t, err)
}

func TestSelectStaticcheck(t *testing.T) {
	selected := selectStaticcheck(ConfigData{Staticcheck: []string{"SA1000", "SA4006"}})
	require.Len(t, selected, 2)

	names := []string{selected[0].Name, selected[1].Name}
	assert.ElementsMatch(t, []string{"SA1000", "SA4006"}, names)

	all := selectStaticcheck(ConfigData{})
	assert.Greater(t, len(all), 2)
	for _, a := range all {
		assert.Regexp(t, `^SA`, a.Name)
	}
}

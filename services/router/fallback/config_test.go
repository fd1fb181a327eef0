// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fallback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadChainConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := `chains:
  gpt-4o-mini:
    - claude-3-5-sonnet-20240620
    - llama3.1
  claude-3-5-sonnet-20240620:
    - gpt-4o-mini
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := LoadChainConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o-mini", "claude-3-5-sonnet-20240620", "llama3.1"},
		config.Candidates("gpt-4o-mini"))
	assert.Equal(t, []string{"claude-3-5-sonnet-20240620", "gpt-4o-mini"},
		config.Candidates("claude-3-5-sonnet-20240620"))
}

func TestLoadChainConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadChainConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadChainConfig_MalformedYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chains: ["), 0o600))

	_, err := LoadChainConfig(path)
	assert.Error(t, err)
}

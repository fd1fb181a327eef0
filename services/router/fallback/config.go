// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fallback

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChainConfig maps each primary model to its ordered alternates. It is
// loaded once at startup and injected into the Orchestrator, never read
// from ambient globals, so tests and tenants can swap it freely.
//
// YAML shape:
//
//	chains:
//	  gpt-4o-mini:
//	    - claude-3-5-sonnet-20240620
//	    - llama3.1
type ChainConfig struct {
	Chains map[string][]string `yaml:"chains"`
}

// LoadChainConfig reads and parses the chain file.
func LoadChainConfig(path string) (*ChainConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain config: %w", err)
	}

	var config ChainConfig
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("failed to parse chain config: %w", err)
	}
	return &config, nil
}

// Candidates returns the full ordered candidate list for a primary model:
// the primary first, then its configured alternates. Duplicates are
// dropped, keeping the first occurrence, so no model can appear twice in
// one traversal.
func (c *ChainConfig) Candidates(primary string) []string {
	seen := map[string]bool{primary: true}
	candidates := []string{primary}

	if c == nil {
		return candidates
	}
	for _, alternate := range c.Chains[primary] {
		if alternate == "" || seen[alternate] {
			continue
		}
		seen[alternate] = true
		candidates = append(candidates, alternate)
	}
	return candidates
}

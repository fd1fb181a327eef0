// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package policy_engine classifies conversation content before it is
// persisted. Every stored turn is tagged with the name of the
// highest-priority classification that matches it, or "public" when none
// does. The rules are embedded in the binary via the enforcement package.
package policy_engine

import (
	"fmt"
	"strings"

	"github.com/TidewaterAI/TidewaterFOSS/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// PolicyEngine is the entry point for data classification operations.
// It holds the compiled rules and provides methods to scan content
// against them.
type PolicyEngine struct {
	Classifiers []Classification
}

// NewPolicyEngine initializes a new instance of the PolicyEngine.
//
// Takes no arguments: the policy definitions are loaded from the YAML
// embedded in the binary by the enforcement package.
//
// It performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts classifications by priority.
//
// Returns an error if the embedded YAML is malformed or contains an
// invalid regex.
func NewPolicyEngine() (*PolicyEngine, error) {
	var classificationFile ClassificationFile
	if err := yaml.Unmarshal(enforcement.DataClassificationPatterns, &classificationFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded policy file: %w", err)
	}

	if err := classificationFile.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex %w", err)
	}

	classificationFile.SortByPriority()

	return &PolicyEngine{Classifiers: classificationFile.ClassificationPatterns}, nil
}

// ClassifyData performs a quick check on a byte slice to determine its
// classification.
//
// Iterates through classifications by priority and returns the name of
// the first classification that matches. If no match is found, it returns
// "public".
//
// This is the hot path used when tagging turns during persistence;
// ScanContent is for detailed auditing.
func (e *PolicyEngine) ClassifyData(data []byte) string {
	for _, classifier := range e.Classifiers {
		for _, re := range classifier.CompiledPatterns {
			if re.Match(data) {
				return classifier.Name
			}
		}
	}
	return "public"
}

// ScanContent performs a comprehensive audit of a string.
//
// Splits the content into lines and checks every line against every
// pattern, capturing line numbers and the specific text that triggered
// each match. Intended for audit tooling where detailed feedback is
// required, not for the per-turn tagging path.
func (e *PolicyEngine) ScanContent(content string) []ScanFinding {
	var findings []ScanFinding
	lines := strings.Split(content, "\n")
	for lineNum, line := range lines {
		for _, classifier := range e.Classifiers {
			for _, pattern := range classifier.Patterns {
				match := pattern.compiledPattern.FindString(line)
				if match != "" {
					findings = append(findings, ScanFinding{
						LineNumber:         lineNum + 1,
						MatchedContent:     strings.TrimSpace(match),
						ClassificationName: classifier.Name,
						PatternId:          pattern.Id,
						PatternDescription: pattern.Description,
						Confidence:         pattern.Confidence,
					})
				}
			}
		}
	}
	return findings
}

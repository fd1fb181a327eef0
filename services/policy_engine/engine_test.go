// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy_engine

import (
	"testing"
)

func TestPolicyEngine(t *testing.T) {
	engine, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("Failed to initialize engine: %v", err)
	}

	tests := []struct {
		name            string
		input           string
		shouldFind      bool
		expectedClass   string
		expectedPattern string
	}{
		{
			name:          "Safe Turn",
			input:         "User: what's the weather like?\nAI: I don't have live weather data.",
			shouldFind:    false,
			expectedClass: "",
		},
		{
			name:            "AWS Access Key (Secret)",
			input:           "My aws key is AKIA1234567890123456 for the prod account.",
			shouldFind:      true,
			expectedClass:   "secret",
			expectedPattern: "AWS_ACCESS_KEY_ID",
		},
		{
			name:            "Email Address (PII)",
			input:           "Please contact jdoe@example.com for support.",
			shouldFind:      true,
			expectedClass:   "pii",
			expectedPattern: "EMAIL_ADDRESS",
		},
		{
			name:            "SSN (PII)",
			input:           "my ssn is 123-45-6789, can you fill the form",
			shouldFind:      true,
			expectedClass:   "pii",
			expectedPattern: "US_SSN",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			findings := engine.ScanContent(tc.input)

			if tc.shouldFind {
				if len(findings) == 0 {
					t.Errorf("Expected to find '%s' but got 0 findings.", tc.expectedPattern)
					return
				}

				first := findings[0]
				if first.ClassificationName != tc.expectedClass {
					t.Errorf("Expected classification '%s', got '%s'", tc.expectedClass, first.ClassificationName)
				}
				if first.PatternId != tc.expectedPattern {
					t.Errorf("Expected pattern ID '%s', got '%s'", tc.expectedPattern, first.PatternId)
				}

				// ClassifyData must agree with the detailed scan
				fastClass := engine.ClassifyData([]byte(tc.input))
				if fastClass != tc.expectedClass {
					t.Errorf("ClassifyData mismatch. Expected '%s', got '%s'", tc.expectedClass, fastClass)
				}
			} else {
				if len(findings) > 0 {
					t.Errorf("Expected 0 findings, got %d. First match: %s", len(findings), findings[0].PatternId)
				}

				fastClass := engine.ClassifyData([]byte(tc.input))
				if fastClass != "public" {
					t.Errorf("Expected 'public' for safe turn, got '%s'", fastClass)
				}
			}
		})
	}
}

func TestEngineInitializationProperties(t *testing.T) {
	engine, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("Failed to init: %v", err)
	}

	// verify sorting: secret (priority 100) must come before financial (30)
	if len(engine.Classifiers) < 2 {
		t.Fatal("Not enough classifiers loaded to test sorting.")
	}

	first := engine.Classifiers[0]
	last := engine.Classifiers[len(engine.Classifiers)-1]

	if first.Priority < last.Priority {
		t.Errorf("Classifiers are not sorted by priority! First: %d, Last: %d", first.Priority, last.Priority)
	}

	if first.Name != "secret" {
		t.Errorf("Expected 'secret' as the highest priority classifier, got: %s", first.Name)
	}
}

func TestPolicyEngine_Concurrency(t *testing.T) {
	engine, _ := NewPolicyEngine()
	input := "My fake key is AKIA1234567890123456"

	// the finalizer classifies turns from many streams at once
	t.Run("ParallelScanning", func(t *testing.T) {
		t.Parallel()
		for i := 0; i < 100; i++ {
			t.Run("Worker", func(t *testing.T) {
				t.Parallel()
				findings := engine.ScanContent(input)
				if len(findings) == 0 {
					t.Error("Concurrent scan failed to find secret")
				}
			})
		}
	})
}

func BenchmarkClassifySafeTurn(b *testing.B) {
	engine, _ := NewPolicyEngine()
	input := []byte("User: summarize this article\nAI: here is a short summary with no sensitive data.")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.ClassifyData(input)
	}
}

func BenchmarkClassifySecretTurn(b *testing.B) {
	engine, _ := NewPolicyEngine()
	input := []byte("My fake key is AKIA1234567890123456 which should be detected.")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.ClassifyData(input)
	}
}

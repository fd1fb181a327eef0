// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file bridges the build system and the runtime logic. It uses the Go
embed package to bake data_classification_patterns.yaml directly into the
compiled binary, so the classification rules are immutable at runtime and
travel with the executable.
*/

package enforcement

import (
	_ "embed"
)

// DataClassificationPatterns holds the raw byte content of the
// 'data_classification_patterns.yaml' file.
//
// Populated at compile time via the Go 'embed' directive. Baking the YAML
// into the binary means the rules used to tag stored conversation turns
// cannot be tampered with on the host filesystem without recompiling.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(enforcement.DataClassificationPatterns, &targetStruct)
//
//go:embed data_classification_patterns.yaml
var DataClassificationPatterns []byte

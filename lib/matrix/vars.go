// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"fmt"
	"regexp"
	"strings"
)

// variablePattern matches ${NAME} references in document strings.
// Only the braced form is recognized; bare $NAME is left for shell
// interpretation. Variable names must start with a letter or
// underscore and contain only letters, digits, and underscores.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// SubstituteVars replaces ${NAME} references in input with values
// from the variables map. Used for the document fields loom itself
// consumes (cache paths, prune paths, the deploy artifact dir); step
// payloads are never expanded here, the shell does that.
//
// Returns an error listing every referenced variable that has no
// value, so documents fail on unresolvable references instead of
// producing half-substituted paths.
func SubstituteVars(input string, variables map[string]string) (string, error) {
	var unresolved []string

	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-1]
		if value, exists := variables[name]; exists {
			return value
		}
		unresolved = append(unresolved, name)
		return match
	})

	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved variables: %s", strings.Join(unresolved, ", "))
	}

	return result, nil
}

// SubstituteAll applies SubstituteVars to each input in order,
// returning the expanded list. The first unresolvable reference
// aborts with an error naming the offending input.
func SubstituteAll(inputs []string, variables map[string]string) ([]string, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	expanded := make([]string, len(inputs))
	for i, input := range inputs {
		value, err := SubstituteVars(input, variables)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", input, err)
		}
		expanded[i] = value
	}
	return expanded, nil
}

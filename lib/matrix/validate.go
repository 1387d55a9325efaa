// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ConfigError reports every issue found in a matrix document. It is
// fatal before any job starts: an Expand that returns a *ConfigError
// has executed nothing.
type ConfigError struct {
	Issues []string
}

func (e *ConfigError) Error() string {
	switch len(e.Issues) {
	case 0:
		return "invalid matrix document"
	case 1:
		return "invalid matrix document: " + e.Issues[0]
	}
	return fmt.Sprintf("invalid matrix document: %d issues:\n  - %s",
		len(e.Issues), strings.Join(e.Issues, "\n  - "))
}

// Validate checks a document for structural issues. Returns a list of
// human-readable issue descriptions; an empty list means the document
// is structurally valid. Semantic issues that depend on expansion
// (conflicting mode flags, modes without step blocks, an unreachable
// deploy trigger) are reported by Expand instead.
func (d *Document) Validate() []string {
	var issues []string

	if d.Name == "" {
		issues = append(issues, "name is required (it namespaces cache entries and reports)")
	}

	declared := make(map[string][]string, len(d.Axes))
	seenAxes := make(map[string]int, len(d.Axes))
	for index, axis := range d.Axes {
		prefix := fmt.Sprintf("axes[%d]", index)
		if axis.Name == "" {
			issues = append(issues, prefix+": name is required")
		} else {
			prefix = fmt.Sprintf("%s %q", prefix, axis.Name)
			if firstIndex, exists := seenAxes[axis.Name]; exists {
				issues = append(issues, fmt.Sprintf(
					"%s: duplicate axis name (first declared at axes[%d])", prefix, firstIndex))
			} else {
				seenAxes[axis.Name] = index
				declared[axis.Name] = axis.Values
			}
		}

		if len(axis.Values) == 0 {
			issues = append(issues, prefix+": at least one value is required")
		}
		seenValues := make(map[string]bool, len(axis.Values))
		for _, value := range axis.Values {
			if seenValues[value] {
				issues = append(issues, fmt.Sprintf("%s: duplicate value %q", prefix, value))
			}
			seenValues[value] = true
		}
	}

	for index, entry := range d.Exclude {
		prefix := fmt.Sprintf("exclude[%d]", index)
		if len(entry.Axes) == 0 {
			issues = append(issues, prefix+": no axes specified (would match every combination)")
		}
		issues = append(issues, checkAxisRefs(entry.Axes, declared, prefix, true)...)
		if len(entry.Env) > 0 {
			issues = append(issues, prefix+": env is only meaningful on include entries")
		}
		if entry.AllowFailure != nil {
			issues = append(issues, prefix+": allow_failure is only meaningful on include entries")
		}
		if entry.Privileged || len(entry.Services) > 0 {
			issues = append(issues, prefix+": privileged and services are only meaningful on include entries")
		}
	}

	for index, entry := range d.Include {
		prefix := fmt.Sprintf("include[%d]", index)
		// Include values outside the declared list are allowed (an
		// include may introduce a one-off value), so only names are
		// checked here.
		issues = append(issues, checkAxisRefs(entry.Axes, declared, prefix, false)...)
	}

	for index, matcher := range d.AllowFailure {
		prefix := fmt.Sprintf("allow_failure[%d]", index)
		issues = append(issues, checkAxisRefs(matcher.Axes, declared, prefix, true)...)
	}

	issues = append(issues, d.validateSteps()...)

	if d.Cache != nil {
		issues = append(issues, d.Cache.validate()...)
	}

	for _, field := range []struct{ name, value string }{
		{"timeout", d.Timeout},
		{"quiet_timeout", d.QuietTimeout},
	} {
		if field.value == "" || field.value == "0" {
			continue
		}
		if duration, err := time.ParseDuration(field.value); err != nil {
			issues = append(issues, fmt.Sprintf("invalid %s %q: %v", field.name, field.value, err))
		} else if duration < 0 {
			issues = append(issues, fmt.Sprintf("%s must not be negative, got %q", field.name, field.value))
		}
	}

	if d.Deploy != nil {
		issues = append(issues, d.Deploy.validate()...)
	}

	return issues
}

// checkAxisRefs verifies that an axis assignment only references
// declared axes and, when checkValues is set, only declared values.
// An exclude referencing an undeclared value can never match anything,
// which is almost certainly a typo.
func checkAxisRefs(axes map[string]string, declared map[string][]string, prefix string, checkValues bool) []string {
	var issues []string

	names := make([]string, 0, len(axes))
	for name := range axes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		values, known := declared[name]
		if !known {
			issues = append(issues, fmt.Sprintf("%s: unknown axis %q", prefix, name))
			continue
		}
		if !checkValues {
			continue
		}
		value := axes[name]
		found := false
		for _, candidate := range values {
			if candidate == value {
				found = true
				break
			}
		}
		if !found {
			issues = append(issues, fmt.Sprintf(
				"%s: axis %q has no value %q (declared: %s), so this entry can never match",
				prefix, name, value, strings.Join(values, ", ")))
		}
	}

	return issues
}

func (d *Document) validateSteps() []string {
	var issues []string

	if len(d.Steps) == 0 {
		issues = append(issues, "steps is required (at least one mode block)")
		return issues
	}

	modes := make([]string, 0, len(d.Steps))
	for mode := range d.Steps {
		modes = append(modes, mode)
	}
	sort.Strings(modes)

	for _, mode := range modes {
		prefix := fmt.Sprintf("steps[%q]", mode)
		if _, err := ParseMode(mode); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", prefix, err))
		}

		block := d.Steps[mode]
		if len(block.Script) == 0 {
			issues = append(issues, prefix+": script is required (at least one step)")
		}
		issues = append(issues, validateStepList(block.Install, prefix+".install")...)
		issues = append(issues, validateStepList(block.Script, prefix+".script")...)
		issues = append(issues, validateStepList(block.AfterSuccess, prefix+".after_success")...)
	}

	return issues
}

func validateStepList(steps []Step, prefix string) []string {
	var issues []string
	for index, step := range steps {
		stepPrefix := fmt.Sprintf("%s[%d]", prefix, index)
		if step.Name != "" {
			stepPrefix = fmt.Sprintf("%s %q", stepPrefix, step.Name)
		}
		if step.Run == "" {
			issues = append(issues, stepPrefix+": run is required")
		}
		if step.Retries < 0 {
			issues = append(issues, fmt.Sprintf("%s: retries must be >= 0, got %d", stepPrefix, step.Retries))
		}
	}
	return issues
}

func (c *CacheSection) validate() []string {
	var issues []string

	if len(c.Paths) == 0 {
		issues = append(issues, "cache.paths is required (at least one path)")
	}
	for index, path := range c.Paths {
		if path == "" {
			issues = append(issues, fmt.Sprintf("cache.paths[%d]: path must not be empty", index))
		}
	}

	for index, prune := range c.Prune {
		prefix := fmt.Sprintf("cache.prune[%d]", index)
		if prune == "" {
			issues = append(issues, prefix+": path must not be empty")
			continue
		}
		if !underAny(prune, c.Paths) {
			issues = append(issues, fmt.Sprintf(
				"%s: %q does not fall under any cached path", prefix, prune))
		}
	}

	return issues
}

// underAny reports whether candidate equals one of the paths or sits
// beneath one at a path-separator boundary. The comparison is textual
// (paths may contain unexpanded ${VAR} references, which compare
// consistently on both sides).
func underAny(candidate string, paths []string) bool {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if candidate == path || strings.HasPrefix(candidate, strings.TrimSuffix(path, "/")+"/") {
			return true
		}
	}
	return false
}

func (d *DeploySection) validate() []string {
	var issues []string

	if d.Branch == "" {
		issues = append(issues, "deploy.branch is required")
	}
	if d.Trigger == "" {
		issues = append(issues, "deploy.trigger is required")
	} else if _, err := ParseMode(d.Trigger); err != nil {
		issues = append(issues, fmt.Sprintf("deploy.trigger: %v", err))
	}
	if d.Command == "" {
		issues = append(issues, "deploy.command is required")
	}
	if d.IdentityFile != "" && d.TokenFile == "" {
		issues = append(issues, "deploy.identity_file is only meaningful with deploy.token_file")
	}

	return issues
}

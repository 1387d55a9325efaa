// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"fmt"
	"strings"
	"unicode"
)

// Expand turns a document into the ordered list of job specs for one
// pipeline run:
//
//  1. Cross-product of all axis values in declaration order, first
//     axis varying slowest.
//  2. Combinations matching an exclude entry removed (specified axes
//     must match, unspecified axes are wildcards).
//  3. Include entries appended verbatim, exactly once each, in
//     declaration order. Axes an include omits resolve to the axis's
//     first value.
//  4. Environment merged per job: document base, then axis-derived
//     LOOM_<AXIS> variables, then entry overrides. Privileged and
//     service requests are exported as LOOM_PRIVILEGED and
//     LOOM_SERVICES.
//  5. Allow-failure attached per job: the entry's own flag when set,
//     otherwise any matching document-level matcher.
//  6. Mode resolved per job from the merged environment.
//
// Every validation issue (structural problems, conflicting mode
// flags, modes without step blocks, an unreachable deploy trigger)
// is collected into a single *ConfigError. An Expand that returns an
// error has produced no runnable jobs.
func Expand(doc *Document) ([]Spec, error) {
	issues := doc.Validate()
	if len(issues) > 0 {
		return nil, &ConfigError{Issues: issues}
	}

	axisNames := make([]string, len(doc.Axes))
	for i, axis := range doc.Axes {
		axisNames[i] = axis.Name
	}

	type pending struct {
		label     string
		axes      map[string]string
		overrides map[string]string
		entry     *Entry
	}

	var jobs []pending
	for _, combo := range crossProduct(doc.Axes) {
		if excludedBy(doc.Exclude, combo) {
			continue
		}
		jobs = append(jobs, pending{
			label: jobLabel(axisNames, combo),
			axes:  combo,
		})
	}
	for i := range doc.Include {
		entry := &doc.Include[i]
		axes := resolveIncludeAxes(doc.Axes, entry.Axes)
		label := fmt.Sprintf("include[%d]", i)
		if len(axisNames) > 0 {
			label = fmt.Sprintf("include[%d] (%s)", i, axisLabel(axisNames, axes))
		}
		jobs = append(jobs, pending{
			label:     label,
			axes:      axes,
			overrides: entry.Env,
			entry:     entry,
		})
	}

	specs := make([]Spec, 0, len(jobs))
	for _, job := range jobs {
		env := mergeEnv(doc.Env, axisNames, job.axes, job.overrides)

		mode, err := DeriveMode(env)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", job.label, err))
			continue
		}
		if block, ok := doc.Steps[string(mode)]; !ok || len(block.Script) == 0 {
			issues = append(issues, fmt.Sprintf("%s: no steps defined for mode %q", job.label, mode))
			continue
		}

		spec := Spec{
			ID:           identity(axisNames, job.axes, job.overrides),
			AxisNames:    axisNames,
			Axes:         job.axes,
			Env:          env,
			Mode:         mode,
			AllowFailure: allowFailure(doc, job.axes, job.entry),
			FromInclude:  job.entry != nil,
		}
		if job.entry != nil {
			spec.Privileged = job.entry.Privileged
			spec.Services = append([]string(nil), job.entry.Services...)
			if spec.Privileged {
				env["LOOM_PRIVILEGED"] = "1"
			}
			if len(spec.Services) > 0 {
				env["LOOM_SERVICES"] = strings.Join(spec.Services, ",")
			}
		}
		specs = append(specs, spec)
	}

	// Only meaningful once every job resolved cleanly; a conflicted
	// job could itself have been the trigger.
	if doc.Deploy != nil && len(issues) == 0 {
		trigger, _ := ParseMode(doc.Deploy.Trigger)
		if !anyMode(specs, trigger) {
			issues = append(issues, fmt.Sprintf("deploy.trigger %q: no job resolves to this mode", trigger))
		}
	}

	if len(issues) > 0 {
		return nil, &ConfigError{Issues: issues}
	}

	assignNames(specs)
	return specs, nil
}

// crossProduct enumerates every combination of axis values. The first
// axis varies slowest, so output order follows declaration order and
// is stable across runs. No axes yields a single empty combination:
// a document without a matrix still describes one job.
func crossProduct(axes []Axis) []map[string]string {
	combos := []map[string]string{{}}

	for _, axis := range axes {
		next := make([]map[string]string, 0, len(combos)*len(axis.Values))
		for _, combo := range combos {
			for _, value := range axis.Values {
				extended := make(map[string]string, len(combo)+1)
				for name, existing := range combo {
					extended[name] = existing
				}
				extended[axis.Name] = value
				next = append(next, extended)
			}
		}
		combos = next
	}

	return combos
}

// excludedBy reports whether any exclude entry matches the
// combination. Entries use partial-match semantics: only the axes
// they specify are compared.
func excludedBy(excludes []Entry, axes map[string]string) bool {
	for _, entry := range excludes {
		if (Matcher{Axes: entry.Axes}).Matches(axes) {
			return true
		}
	}
	return false
}

// resolveIncludeAxes completes a possibly partial include assignment:
// declared axes the entry omits take the axis's first value, keeping
// every Spec fully assigned.
func resolveIncludeAxes(axes []Axis, assigned map[string]string) map[string]string {
	resolved := make(map[string]string, len(axes))
	for _, axis := range axes {
		if value, ok := assigned[axis.Name]; ok {
			resolved[axis.Name] = value
		} else {
			resolved[axis.Name] = axis.Values[0]
		}
	}
	return resolved
}

// mergeEnv builds a job's environment. Later sources win: document
// base, then axis-derived variables, then entry overrides.
func mergeEnv(base map[string]string, axisNames []string, axes, overrides map[string]string) map[string]string {
	env := make(map[string]string, len(base)+len(axisNames)+len(overrides))
	for name, value := range base {
		env[name] = value
	}
	for _, name := range axisNames {
		env[axisVariable(name)] = axes[name]
	}
	for name, value := range overrides {
		env[name] = value
	}
	return env
}

// axisVariable maps an axis name to its exported environment
// variable: LOOM_<NAME>, upper-cased, with every character outside
// [A-Za-z0-9] replaced by an underscore. Step payloads consume axis
// values through these variables without loom interpreting the
// payloads.
func axisVariable(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return unicode.ToUpper(r)
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return "LOOM_" + mapped
}

// allowFailure resolves a job's allow-failure flag: the entry's own
// field when set, otherwise true when any document-level matcher
// matches the job's axes.
func allowFailure(doc *Document, axes map[string]string, entry *Entry) bool {
	if entry != nil && entry.AllowFailure != nil {
		return *entry.AllowFailure
	}
	for _, matcher := range doc.AllowFailure {
		if matcher.Matches(axes) {
			return true
		}
	}
	return false
}

// jobLabel names a cross-product job in validation messages.
func jobLabel(axisNames []string, axes map[string]string) string {
	if len(axisNames) == 0 {
		return "job"
	}
	return "job " + axisLabel(axisNames, axes)
}

// axisLabel renders an axis assignment in declaration order, e.g.
// "rust=stable,os=linux". A document with no axes labels its single
// job "job".
func axisLabel(axisNames []string, axes map[string]string) string {
	if len(axisNames) == 0 {
		return "job"
	}
	parts := make([]string, 0, len(axisNames))
	for _, name := range axisNames {
		parts = append(parts, name+"="+axes[name])
	}
	return strings.Join(parts, ",")
}

// assignNames gives every spec a unique human label: the axis label,
// a "+mode" suffix for non-default modes, and an ordinal suffix when
// two jobs would otherwise collide (the first keeps the bare name).
func assignNames(specs []Spec) {
	counts := make(map[string]int, len(specs))
	for i := range specs {
		base := axisLabel(specs[i].AxisNames, specs[i].Axes)
		if specs[i].Mode != ModeDefault {
			base += "+" + string(specs[i].Mode)
		}
		counts[base]++
		if ordinal := counts[base]; ordinal > 1 {
			specs[i].Name = fmt.Sprintf("%s#%d", base, ordinal)
		} else {
			specs[i].Name = base
		}
	}
}

func anyMode(specs []Spec, mode Mode) bool {
	for _, spec := range specs {
		if spec.Mode == mode {
			return true
		}
	}
	return false
}

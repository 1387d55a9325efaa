// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"encoding/json"
	"fmt"
)

// Document is a parsed matrix document: the full declarative input to
// one pipeline run. Construct it with Parse or ParseFile, then call
// Expand to turn it into runnable job specs. A Document is never
// mutated after parsing.
type Document struct {
	// Name namespaces this pipeline's cache entries and report
	// output. Required.
	Name string `json:"name"`

	// Env is the base environment shared by every job. Entry-level
	// overrides are merged on top of it.
	Env map[string]string `json:"env,omitempty"`

	// Axes are the matrix dimensions, in declaration order. The
	// cross-product of their values generates the base job list.
	Axes []Axis `json:"axes,omitempty"`

	// Exclude removes generated combinations. An entry's axes are a
	// partial assignment: specified axes must match the combination
	// exactly, unspecified axes match any value.
	Exclude []Entry `json:"exclude,omitempty"`

	// Include appends extra jobs verbatim, after excludes are
	// applied. Include entries are never filtered by Exclude and
	// appear in the output exactly once each, even when they
	// duplicate a cross-product member.
	Include []Entry `json:"include,omitempty"`

	// AllowFailure marks matching jobs as allowed to fail: they run
	// identically and report their true outcome, but the scheduler
	// excludes them from aggregate failure determination. An entry's
	// own allow_failure field takes precedence over this list.
	AllowFailure []Matcher `json:"allow_failure,omitempty"`

	// Steps maps mode names (see Mode) to step sequences. Every mode
	// that an expanded job resolves to must have a block here with a
	// non-empty script.
	Steps map[string]StepsBlock `json:"steps"`

	// Cache configures which directories persist across runs.
	Cache *CacheSection `json:"cache,omitempty"`

	// Timeout is the per-job wall-clock limit (Go duration string).
	// Empty falls back to the operator config default.
	Timeout string `json:"timeout,omitempty"`

	// QuietTimeout kills a job that produces no output for this long.
	// Empty falls back to the operator config default; "0" disables.
	QuietTimeout string `json:"quiet_timeout,omitempty"`

	// Deploy configures the post-pipeline deploy gate. Nil means no
	// deployment is ever attempted.
	Deploy *DeploySection `json:"deploy,omitempty"`
}

// Axis is one matrix dimension: a named, ordered list of values.
type Axis struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Matcher is a partial axis assignment. Specified axes must match a
// job's resolved value exactly; unspecified axes match any value. An
// empty matcher matches every job.
type Matcher struct {
	Axes map[string]string `json:"axes,omitempty"`
}

// Matches reports whether every axis the matcher specifies has the
// same value in the given assignment.
func (m Matcher) Matches(axes map[string]string) bool {
	for name, want := range m.Axes {
		if axes[name] != want {
			return false
		}
	}
	return true
}

// Entry is one include or exclude list element. Exclude entries use
// only Axes; the remaining fields are meaningful on includes.
type Entry struct {
	// Axes assigns axis values. For excludes this is the (partial)
	// match pattern. For includes it may also be partial: axes the
	// document declares but the entry omits resolve to the axis's
	// first value, and values outside the axis's declared list are
	// permitted (an include may introduce a one-off value).
	Axes map[string]string `json:"axes,omitempty"`

	// Env overrides merged onto the job's environment; entry keys
	// take precedence over the document base and axis-derived
	// variables.
	Env map[string]string `json:"env,omitempty"`

	// AllowFailure, when set, overrides the document-level
	// allow_failure matchers for this job.
	AllowFailure *bool `json:"allow_failure,omitempty"`

	// Privileged requests an elevated-privilege execution
	// environment. Recorded on the Spec and exported to steps as
	// LOOM_PRIVILEGED; loom itself does not grant privileges.
	Privileged bool `json:"privileged,omitempty"`

	// Services lists auxiliary services the job expects. Recorded on
	// the Spec and exported as LOOM_SERVICES; provisioning them is
	// the step payload's concern.
	Services []string `json:"services,omitempty"`
}

// StepsBlock is the step sequence for one mode.
type StepsBlock struct {
	// Install steps run during the Preparing phase. A failure here
	// marks the job errored without entering Running.
	Install []Step `json:"install,omitempty"`

	// Script steps are the job's main sequence, strictly ordered,
	// fail-fast. Required, non-empty.
	Script []Step `json:"script"`

	// AfterSuccess steps run during Finalizing, only when every
	// script step succeeded. Their failures are warnings and never
	// change the job's outcome.
	AfterSuccess []Step `json:"after_success,omitempty"`
}

// Step is one executable unit inside a phase. In JSONC a step is
// either a bare string (the command) or an object with the fields
// below.
type Step struct {
	// Name labels the step in logs and reports. Empty means a name
	// is derived from the step's position.
	Name string `json:"name,omitempty"`

	// Run is the shell command, executed via `sh -c`. Required.
	Run string `json:"run"`

	// Env sets additional environment variables for this step only.
	Env map[string]string `json:"env,omitempty"`

	// Retries re-runs a failing step up to this many extra times.
	// Only the final attempt's failure counts; any successful
	// attempt ends the step successfully.
	Retries int `json:"retries,omitempty"`
}

// UnmarshalJSON accepts both the bare-string shorthand and the full
// object form.
func (s *Step) UnmarshalJSON(data []byte) error {
	var run string
	if err := json.Unmarshal(data, &run); err == nil {
		*s = Step{Run: run}
		return nil
	}

	// plain type alias drops the custom unmarshaler, avoiding recursion
	type stepObject Step
	var object stepObject
	if err := json.Unmarshal(data, &object); err != nil {
		return fmt.Errorf("step must be a string (command) or an object, got: %s", string(data))
	}
	*s = Step(object)
	return nil
}

// CacheSection configures which directories persist across pipeline
// runs and which volatile subtrees are pruned before persisting.
type CacheSection struct {
	// Paths are the directories to restore before a job's steps and
	// archive after. ${VAR} references expand against the job's
	// environment at use time.
	Paths []string `json:"paths"`

	// Prune lists subtrees removed after the job's steps finish but
	// before the cache is archived. Each path must fall under one of
	// Paths.
	Prune []string `json:"prune,omitempty"`
}

// DeploySection configures the deploy gate evaluated after all jobs
// complete.
type DeploySection struct {
	// Branch is the branch the pipeline must be running on for the
	// gate to fire.
	Branch string `json:"branch"`

	// Trigger is the mode name identifying the representative job
	// whose real outcome gates deployment.
	Trigger string `json:"trigger"`

	// Command is the deployment shell command.
	Command string `json:"command"`

	// ArtifactDir is exported to the deploy command as
	// LOOM_ARTIFACT_DIR. ${VAR} references expand against the run
	// environment.
	ArtifactDir string `json:"artifact_dir,omitempty"`

	// TokenFile points at a secret delivered to the deploy command
	// as LOOM_DEPLOY_TOKEN. May be age-encrypted, in which case
	// IdentityFile decrypts it.
	TokenFile string `json:"token_file,omitempty"`

	// IdentityFile is the age identity used to decrypt TokenFile.
	IdentityFile string `json:"identity_file,omitempty"`
}

// Spec is one fully resolved, runnable job: a single combination of
// axis values plus merged environment. Specs are created once by
// Expand and read-only thereafter.
type Spec struct {
	// Name is the human label, unique within a run, derived from the
	// axis assignment and mode (e.g. "rust=stable+doc-build").
	Name string `json:"name"`

	// ID is a short stable digest of the job's identity (resolved
	// axis values plus applied entry overrides).
	ID string `json:"id"`

	// AxisNames preserves the document's axis declaration order for
	// deterministic iteration over Axes.
	AxisNames []string `json:"axis_names,omitempty"`

	// Axes is the job's resolved value for every declared axis.
	Axes map[string]string `json:"axes,omitempty"`

	// Env is the fully merged environment: document base, then
	// axis-derived LOOM_<AXIS> variables, then entry overrides.
	// Privileged and service requests appear as LOOM_PRIVILEGED and
	// LOOM_SERVICES.
	Env map[string]string `json:"env,omitempty"`

	// Mode selects which steps block the job runs.
	Mode Mode `json:"mode"`

	// AllowFailure excludes this job from aggregate failure
	// determination. The job still runs identically and reports its
	// true outcome.
	AllowFailure bool `json:"allow_failure,omitempty"`

	// Privileged and Services carry the entry's execution
	// environment requests through to the step environment.
	Privileged bool     `json:"privileged,omitempty"`
	Services   []string `json:"services,omitempty"`

	// FromInclude records that this job came from an include entry
	// rather than the cross-product.
	FromInclude bool `json:"from_include,omitempty"`
}

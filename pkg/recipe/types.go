// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/tapforge/tapforge/pkg/platform"
)

// Dependency kinds.
const (
	KindBuild    DependencyKind = "build"
	KindRuntime  DependencyKind = "runtime"
	KindOptional DependencyKind = "optional"
)

// Build step tool families.
const (
	ToolConfigure Tool = "configure"
	ToolCMake     Tool = "cmake"
	ToolCommand   Tool = "command"
	ToolShell     Tool = "shell"
)

// Build modes. A package is built from exactly one of them.
const (
	ModeStable BuildMode = "stable"
	ModeHead   BuildMode = "head"
)

var (
	// ErrInvalidPackageName is returned when a package name fails validation.
	ErrInvalidPackageName = errors.New("invalid package name")
	// ErrInvalidDependencyKind is returned for an unknown dependency kind.
	ErrInvalidDependencyKind = errors.New("invalid dependency kind")
	// ErrInvalidTool is returned for an unknown build step tool.
	ErrInvalidTool = errors.New("invalid tool")
	// ErrInvalidBuildMode is returned for an unknown build mode.
	ErrInvalidBuildMode = errors.New("invalid build mode")

	packageNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9+._-]*$`)
)

type (
	// PackageName identifies a package within a tap and within an install root.
	PackageName string

	// DependencyKind classifies when a dependency is needed.
	DependencyKind string

	// Tool selects how a build step is executed.
	Tool string

	// BuildMode selects the stable release or the head checkout.
	BuildMode string

	// InvalidPackageNameError carries the rejected name.
	InvalidPackageNameError struct {
		Value  PackageName
		Reason string
	}

	// InvalidDependencyKindError carries the rejected kind.
	InvalidDependencyKindError struct {
		Value DependencyKind
	}

	// InvalidToolError carries the rejected tool.
	InvalidToolError struct {
		Value Tool
	}

	// InvalidBuildModeError carries the rejected mode.
	InvalidBuildModeError struct {
		Value BuildMode
	}

	// PackageSpec is the parsed, immutable form of one recipe.
	PackageSpec struct {
		Name         PackageName           `json:"name"`
		Version      string                `json:"version"`
		License      string                `json:"license,omitempty"`
		Description  string                `json:"description,omitempty"`
		Homepage     string                `json:"homepage,omitempty"`
		Source       Source                `json:"source"`
		Head         *Head                 `json:"head,omitempty"`
		Dependencies []Dependency          `json:"dependencies,omitempty"`
		Steps        []BuildStep           `json:"steps,omitempty"`
		PostInstall  []PostInstallStep     `json:"post_install,omitempty"`
		Test         *TestSpec             `json:"test,omitempty"`
		Conflicts    []ConflictDeclaration `json:"conflicts,omitempty"`
		Service      *ServiceDescriptor    `json:"service,omitempty"`
		Artifacts    []string              `json:"artifacts,omitempty"`
		ConfigTool   string                `json:"config_tool,omitempty"`
		Env          map[string]Template   `json:"env,omitempty"`
		EnvPrepend   map[string]Template   `json:"env_prepend,omitempty"`
		EnvRemove    []string              `json:"env_remove,omitempty"`
		Deparallel   bool                  `json:"deparallelize,omitempty"`
		Caveats      string                `json:"caveats,omitempty"`
		Platforms    *platform.Predicate   `json:"platforms,omitempty"`

		// FilePath is the recipe file the spec was loaded from.
		FilePath string `json:"-"`
	}

	// Source locates the stable release archive.
	Source struct {
		URL    string `json:"url"`
		SHA256 string `json:"sha256,omitempty"`
	}

	// Head locates the development checkout and the build-only dependencies
	// it needs on top of the stable set.
	Head struct {
		URL          string       `json:"url"`
		Branch       string       `json:"branch,omitempty"`
		Dependencies []Dependency `json:"dependencies,omitempty"`
	}

	// Dependency references another package by name.
	Dependency struct {
		Name      PackageName         `json:"name"`
		Kind      DependencyKind      `json:"kind,omitempty"`
		Platforms *platform.Predicate `json:"platforms,omitempty"`
	}

	// BuildStep is one tool invocation.
	BuildStep struct {
		Tool      Tool                `json:"tool"`
		Args      []Template          `json:"args,omitempty"`
		Workdir   string              `json:"workdir,omitempty"`
		Platforms *platform.Predicate `json:"platforms,omitempty"`
		Mode      BuildMode           `json:"mode,omitempty"`
	}

	// PostInstallStep runs after install and before tests.
	PostInstallStep struct {
		Mkdir Template `json:"mkdir"`
	}

	// ConflictDeclaration names a package that must not share the root.
	ConflictDeclaration struct {
		Name   PackageName `json:"name"`
		Reason string      `json:"reason"`
	}

	// ServiceDescriptor is handed to an external supervisor and never run here.
	ServiceDescriptor struct {
		Run          []Template `json:"run"`
		Restart      string     `json:"restart,omitempty"`
		LogPath      Template   `json:"log_path,omitempty"`
		ErrorLogPath Template   `json:"error_log_path,omitempty"`
	}
)

func (e *InvalidPackageNameError) Error() string {
	return fmt.Sprintf("invalid package name %q: %s", e.Value, e.Reason)
}

func (e *InvalidPackageNameError) Unwrap() error { return ErrInvalidPackageName }

func (e *InvalidDependencyKindError) Error() string {
	return fmt.Sprintf("invalid dependency kind %q (must be build, runtime or optional)", e.Value)
}

func (e *InvalidDependencyKindError) Unwrap() error { return ErrInvalidDependencyKind }

func (e *InvalidToolError) Error() string {
	return fmt.Sprintf("invalid tool %q (must be configure, cmake, command or shell)", e.Value)
}

func (e *InvalidToolError) Unwrap() error { return ErrInvalidTool }

func (e *InvalidBuildModeError) Error() string {
	return fmt.Sprintf("invalid build mode %q (must be stable or head)", e.Value)
}

func (e *InvalidBuildModeError) Unwrap() error { return ErrInvalidBuildMode }

// Validate checks the name syntax. Names double as prefix directory names.
func (n PackageName) Validate() error {
	if !packageNamePattern.MatchString(string(n)) {
		return &InvalidPackageNameError{Value: n, Reason: "must match " + packageNamePattern.String()}
	}
	if platform.IsWindowsReservedName(string(n)) {
		return &InvalidPackageNameError{Value: n, Reason: "reserved device name"}
	}
	return nil
}

func (n PackageName) String() string { return string(n) }

// Validate accepts the three kinds. The empty value is rejected here; the
// loader normalizes it to runtime before validation runs.
func (k DependencyKind) Validate() error {
	switch k {
	case KindBuild, KindRuntime, KindOptional:
		return nil
	default:
		return &InvalidDependencyKindError{Value: k}
	}
}

// Validate accepts the four tool families.
func (t Tool) Validate() error {
	switch t {
	case ToolConfigure, ToolCMake, ToolCommand, ToolShell:
		return nil
	default:
		return &InvalidToolError{Value: t}
	}
}

// Validate accepts stable and head.
func (m BuildMode) Validate() error {
	switch m {
	case ModeStable, ModeHead:
		return nil
	default:
		return &InvalidBuildModeError{Value: m}
	}
}

// Applies reports whether an element restricted to m runs in the active mode.
// The empty restriction applies to both modes.
func (m BuildMode) Applies(active BuildMode) bool {
	return m == "" || m == active
}

// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"errors"
	"fmt"
	goruntime "runtime"
	"slices"
	"strings"
)

// Operating system identifiers as written in recipes and configuration.
const (
	MacOS   OS = "macos"
	Linux   OS = "linux"
	Windows OS = "windows"
)

// Architecture identifiers as written in recipes and configuration.
const (
	AMD64 Arch = "amd64"
	ARM64 Arch = "arm64"
)

var (
	// ErrInvalidOS is returned when an OS identifier is not one of the known values.
	ErrInvalidOS = errors.New("invalid operating system")

	// ErrInvalidArch is returned when an architecture identifier is not one of the known values.
	ErrInvalidArch = errors.New("invalid architecture")
)

type (
	// OS is an operating system identifier.
	OS string

	// Arch is a CPU architecture identifier.
	Arch string

	// Platform is the active build target.
	Platform struct {
		OS   OS   `json:"os" mapstructure:"os"`
		Arch Arch `json:"arch" mapstructure:"arch"`
	}

	// Predicate restricts a recipe element to a set of platforms.
	// An empty list on either axis matches every value on that axis.
	Predicate struct {
		OS   []OS   `json:"os,omitempty"`
		Arch []Arch `json:"arch,omitempty"`
	}

	// InvalidOSError carries the rejected OS value.
	InvalidOSError struct {
		Value OS
	}

	// InvalidArchError carries the rejected architecture value.
	InvalidArchError struct {
		Value Arch
	}
)

func (e *InvalidOSError) Error() string {
	return fmt.Sprintf("invalid operating system %q (must be one of macos, linux, windows)", e.Value)
}

func (e *InvalidOSError) Unwrap() error { return ErrInvalidOS }

func (e *InvalidArchError) Error() string {
	return fmt.Sprintf("invalid architecture %q (must be one of amd64, arm64)", e.Value)
}

func (e *InvalidArchError) Unwrap() error { return ErrInvalidArch }

// Validate returns an error wrapping ErrInvalidOS for unknown values.
func (o OS) Validate() error {
	switch o {
	case MacOS, Linux, Windows:
		return nil
	default:
		return &InvalidOSError{Value: o}
	}
}

// Validate returns an error wrapping ErrInvalidArch for unknown values.
func (a Arch) Validate() error {
	switch a {
	case AMD64, ARM64:
		return nil
	default:
		return &InvalidArchError{Value: a}
	}
}

// Current returns the platform of the running process.
func Current() Platform {
	return FromGo(goruntime.GOOS, goruntime.GOARCH)
}

// FromGo maps GOOS/GOARCH values onto recipe identifiers.
func FromGo(goos, goarch string) Platform {
	o := OS(goos)
	if goos == "darwin" {
		o = MacOS
	}
	return Platform{OS: o, Arch: Arch(goarch)}
}

// Parse reads an "os/arch" pair such as "linux/arm64".
func Parse(s string) (Platform, error) {
	osPart, archPart, ok := strings.Cut(s, "/")
	if !ok {
		return Platform{}, fmt.Errorf("platform %q: expected os/arch", s)
	}
	p := Platform{OS: OS(osPart), Arch: Arch(archPart)}
	if err := p.Validate(); err != nil {
		return Platform{}, err
	}
	return p, nil
}

// Validate checks both axes.
func (p Platform) Validate() error {
	return errors.Join(p.OS.Validate(), p.Arch.Validate())
}

func (p Platform) String() string {
	return string(p.OS) + "/" + string(p.Arch)
}

// Matches reports whether the predicate admits p. A nil predicate matches everything.
func (pr *Predicate) Matches(p Platform) bool {
	if pr == nil {
		return true
	}
	if len(pr.OS) > 0 && !slices.Contains(pr.OS, p.OS) {
		return false
	}
	if len(pr.Arch) > 0 && !slices.Contains(pr.Arch, p.Arch) {
		return false
	}
	return true
}

// Validate checks every listed value.
func (pr *Predicate) Validate() error {
	if pr == nil {
		return nil
	}
	var errs []error
	for _, o := range pr.OS {
		errs = append(errs, o.Validate())
	}
	for _, a := range pr.Arch {
		errs = append(errs, a.Validate())
	}
	return errors.Join(errs...)
}

func (pr *Predicate) String() string {
	if pr == nil || (len(pr.OS) == 0 && len(pr.Arch) == 0) {
		return "any"
	}
	var parts []string
	if len(pr.OS) > 0 {
		os := make([]string, len(pr.OS))
		for i, o := range pr.OS {
			os[i] = string(o)
		}
		parts = append(parts, "os="+strings.Join(os, ","))
	}
	if len(pr.Arch) > 0 {
		arch := make([]string, len(pr.Arch))
		for i, a := range pr.Arch {
			arch[i] = string(a)
		}
		parts = append(parts, "arch="+strings.Join(arch, ","))
	}
	return strings.Join(parts, " ")
}

// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
)

type (
	// ValidationError is one problem found in a recipe.
	ValidationError struct {
		// Field is a JSON-style path such as "steps[2].args[0]".
		Field   string
		Message string
	}

	// ValidationErrors collects every problem found in one validation pass.
	ValidationErrors []ValidationError

	validator struct {
		spec *PackageSpec
		errs ValidationErrors
		deps map[PackageName]bool
	}
)

func (e ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

func (errs ValidationErrors) Error() string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d errors:", len(errs))
	for _, e := range errs {
		b.WriteString("\n  - ")
		b.WriteString(e.Error())
	}
	return b.String()
}

// Validate runs the checks the schema cannot express.
func (s *PackageSpec) Validate() ValidationErrors {
	v := &validator{spec: s, deps: make(map[PackageName]bool)}

	v.check("name", s.Name.Validate())
	if strings.TrimSpace(s.Version) == "" {
		v.add("version", "must not be empty")
	}
	v.check("platforms", s.Platforms.Validate())

	v.dependencies("dependencies", s.Dependencies)
	if s.Head != nil {
		if s.Head.URL == "" {
			v.add("head.url", "must not be empty")
		}
		v.dependencies("head.dependencies", s.Head.Dependencies)
	}

	for i, st := range s.Steps {
		v.step(fmt.Sprintf("steps[%d]", i), st, false)
	}
	for i, pi := range s.PostInstall {
		v.template(fmt.Sprintf("post_install[%d].mkdir", i), pi.Mkdir, false)
	}
	for _, k := range slices.Sorted(maps.Keys(s.Env)) {
		v.template("env."+k, s.Env[k], false)
	}
	for _, k := range slices.Sorted(maps.Keys(s.EnvPrepend)) {
		v.template("env_prepend."+k, s.EnvPrepend[k], false)
	}
	if s.ConfigTool != "" && !isRelative(s.ConfigTool) {
		v.add("config_tool", "must be a relative path inside the prefix")
	}

	for i, c := range s.Conflicts {
		field := fmt.Sprintf("conflicts[%d]", i)
		v.check(field+".name", c.Name.Validate())
		if c.Name == s.Name {
			v.add(field+".name", "package cannot conflict with itself")
		}
	}
	for i, a := range s.Artifacts {
		if strings.TrimSpace(a) == "" {
			v.add(fmt.Sprintf("artifacts[%d]", i), "must not be empty")
		}
	}

	if s.Test != nil {
		for i, c := range s.Test.Cases {
			v.testCase(fmt.Sprintf("test.cases[%d]", i), c)
		}
	}
	if s.Service != nil {
		if len(s.Service.Run) == 0 {
			v.add("service.run", "must not be empty")
		}
		for i, arg := range s.Service.Run {
			v.template(fmt.Sprintf("service.run[%d]", i), arg, false)
		}
		v.template("service.log_path", s.Service.LogPath, false)
		v.template("service.error_log_path", s.Service.ErrorLogPath, false)
	}

	return v.errs
}

func (v *validator) add(field, msg string) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: msg})
}

func (v *validator) check(field string, err error) {
	if err != nil {
		v.add(field, err.Error())
	}
}

func (v *validator) dependencies(field string, deps []Dependency) {
	for i, d := range deps {
		f := fmt.Sprintf("%s[%d]", field, i)
		v.check(f+".name", d.Name.Validate())
		v.check(f+".kind", d.Kind.Validate())
		v.check(f+".platforms", d.Platforms.Validate())
		if d.Name == v.spec.Name {
			v.add(f+".name", "package cannot depend on itself")
		}
		if v.deps[d.Name] {
			v.add(f+".name", fmt.Sprintf("duplicate dependency %q", d.Name))
		}
		v.deps[d.Name] = true
	}
}

func (v *validator) step(field string, st BuildStep, inTest bool) {
	if err := st.Tool.Validate(); err != nil {
		v.add(field+".tool", err.Error())
		return
	}
	if st.Mode != "" {
		v.check(field+".mode", st.Mode.Validate())
	}
	v.check(field+".platforms", st.Platforms.Validate())
	if st.Workdir != "" && !isRelative(st.Workdir) {
		v.add(field+".workdir", "must be relative to the source directory")
	}

	switch st.Tool {
	case ToolCommand:
		if len(st.Args) == 0 {
			v.add(field+".args", "command steps need a program")
		}
	case ToolShell:
		if len(st.Args) != 1 {
			v.add(field+".args", "shell steps take exactly one snippet")
		} else {
			v.check(field+".args[0]", CheckShellSyntax(st.Args[0], v.spec.FilePath))
		}
	case ToolConfigure, ToolCMake:
		if inTest {
			v.add(field+".tool", "test cases run command or shell tools")
		}
	}

	for i, a := range st.Args {
		v.template(fmt.Sprintf("%s.args[%d]", field, i), a, inTest)
	}
}

func (v *validator) testCase(field string, c TestCase) {
	v.step(field, c.Step(), true)
	for i, f := range c.Fixtures {
		ff := fmt.Sprintf("%s.fixtures[%d]", field, i)
		if !isRelative(f.Path) {
			v.add(ff+".path", "must be relative to the test directory")
		}
		if _, err := f.Bytes(); err != nil {
			v.add(ff+".content", err.Error())
		}
	}
	for i, m := range c.Expect {
		v.check(fmt.Sprintf("%s.expect[%d]", field, i), m.Validate())
	}
	for i, e := range c.Exists {
		v.template(fmt.Sprintf("%s.exists[%d]", field, i), e, true)
	}
	if c.ExitCode < 0 || c.ExitCode > 255 {
		v.add(field+".exit_code", "must be between 0 and 255")
	}
}

// template checks placeholder syntax and that dependency references name a
// declared dependency.
func (v *validator) template(field string, t Template, inTest bool) {
	ps, err := t.Placeholders()
	if err != nil {
		v.add(field, err.Error())
		return
	}
	for _, p := range ps {
		switch p.Kind {
		case RefDep:
			if !v.deps[p.Package] {
				v.add(field, fmt.Sprintf("%s references undeclared dependency %q", p, p.Package))
			}
		case RefTestPath:
			if !inTest {
				v.add(field, "<testpath> is only available in test cases")
			}
		}
	}
}

func isRelative(p string) bool {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return false
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

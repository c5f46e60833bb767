// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"errors"
	"slices"
	"testing"

	"github.com/tapforge/tapforge/internal/ledger"
	"github.com/tapforge/tapforge/internal/prereg"
	"github.com/tapforge/tapforge/pkg/platform"
	"github.com/tapforge/tapforge/pkg/recipe"
)

type specMap map[recipe.PackageName]*recipe.PackageSpec

func (m specMap) Get(name recipe.PackageName) (*recipe.PackageSpec, bool) {
	s, ok := m[name]
	return s, ok
}

func newSpecs(specs ...*recipe.PackageSpec) specMap {
	m := make(specMap, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return m
}

func pkg(name string, deps ...recipe.Dependency) *recipe.PackageSpec {
	return &recipe.PackageSpec{Name: recipe.PackageName(name), Version: "1.0", Dependencies: deps}
}

func runtimeDep(name string) recipe.Dependency {
	return recipe.Dependency{Name: recipe.PackageName(name), Kind: recipe.KindRuntime}
}

func buildDep(name string) recipe.Dependency {
	return recipe.Dependency{Name: recipe.PackageName(name), Kind: recipe.KindBuild}
}

var linux = platform.Platform{OS: platform.Linux, Arch: platform.AMD64}

func TestResolve_LinearChain(t *testing.T) {
	t.Parallel()

	specs := newSpecs(pkg("A"), pkg("B", runtimeDep("A")), pkg("C", runtimeDep("B")))
	p, err := Resolve(specs, []recipe.PackageName{"C"}, Options{Platform: linux})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Names(); !slices.Equal(got, []recipe.PackageName{"A", "B", "C"}) {
		t.Errorf("order = %v, want [A B C]", got)
	}
	if got := p.Dependents("A"); !slices.Equal(got, []recipe.PackageName{"B"}) {
		t.Errorf("Dependents(A) = %v", got)
	}
	if n, _ := p.Node("C"); !n.Target {
		t.Error("C should be marked as target")
	}
	if n, _ := p.Node("A"); n.Target {
		t.Error("A should not be marked as target")
	}
}

func TestResolve_DependenciesPrecedeDependents(t *testing.T) {
	t.Parallel()

	specs := newSpecs(
		pkg("osgeo-gdal", runtimeDep("osgeo-proj"), runtimeDep("libtiff"), buildDep("cmake")),
		pkg("osgeo-proj", runtimeDep("libtiff"), runtimeDep("sqlite"), buildDep("cmake")),
		pkg("libtiff", runtimeDep("zlib")),
		pkg("sqlite", runtimeDep("zlib")),
		pkg("zlib"),
		pkg("cmake"),
	)
	p, err := Resolve(specs, []recipe.PackageName{"osgeo-gdal"}, Options{Platform: linux})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := make(map[recipe.PackageName]int)
	for i, n := range p.Names() {
		pos[n] = i
	}
	for _, n := range p.Order {
		for _, d := range n.Deps {
			if pos[d.Name] >= pos[n.Name()] {
				t.Errorf("%s (pos %d) must precede %s (pos %d)", d.Name, pos[d.Name], n.Name(), pos[n.Name()])
			}
		}
	}
	want := []recipe.PackageName{"cmake", "zlib", "libtiff", "sqlite", "osgeo-proj", "osgeo-gdal"}
	if got := p.Names(); !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	t.Parallel()

	specs := newSpecs(pkg("d", runtimeDep("b"), runtimeDep("c")), pkg("b", runtimeDep("a")), pkg("c", runtimeDep("a")), pkg("a"))
	first, err := Resolve(specs, []recipe.PackageName{"d"}, Options{Platform: linux})
	if err != nil {
		t.Fatal(err)
	}
	second, err := Resolve(specs, []recipe.PackageName{"d", "d"}, Options{Platform: linux})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(first.Names(), second.Names()) {
		t.Errorf("orders differ: %v vs %v", first.Names(), second.Names())
	}
	if first.Fingerprint != second.Fingerprint || first.Fingerprint == "" {
		t.Errorf("fingerprints differ: %q vs %q", first.Fingerprint, second.Fingerprint)
	}

	other, err := Resolve(specs, []recipe.PackageName{"b"}, Options{Platform: linux})
	if err != nil {
		t.Fatal(err)
	}
	if other.Fingerprint == first.Fingerprint {
		t.Error("different plans should have different fingerprints")
	}
}

func TestResolve_Cycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		specs specMap
		want  []recipe.PackageName
	}{
		{
			name:  "two packages",
			specs: newSpecs(pkg("A", runtimeDep("B")), pkg("B", runtimeDep("A"))),
			want:  []recipe.PackageName{"A", "B", "A"},
		},
		{
			name:  "through a build dependency",
			specs: newSpecs(pkg("A", runtimeDep("B")), pkg("B", runtimeDep("C")), pkg("C", buildDep("A"))),
			want:  []recipe.PackageName{"A", "B", "C", "A"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Resolve(tt.specs, []recipe.PackageName{"A"}, Options{Platform: linux})
			var ce *CyclicDependencyError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CyclicDependencyError, got %v", err)
			}
			if !slices.Equal(ce.Cycle, tt.want) {
				t.Errorf("cycle = %v, want %v", ce.Cycle, tt.want)
			}
			if !errors.Is(err, ErrCyclicDependency) {
				t.Error("expected errors.Is(err, ErrCyclicDependency)")
			}
		})
	}
}

func TestResolve_ConflictingPackages(t *testing.T) {
	t.Parallel()

	mutualA := pkg("osgeo-proj")
	mutualA.Conflicts = []recipe.ConflictDeclaration{{Name: "blast", Reason: "both install `proj`"}}
	mutualB := pkg("blast")
	mutualB.Conflicts = []recipe.ConflictDeclaration{{Name: "osgeo-proj", Reason: "both install `proj`"}}

	oneSided := pkg("libpq")
	oneSided.Conflicts = []recipe.ConflictDeclaration{{Name: "postgresql", Reason: "libpq is bundled"}}

	tests := []struct {
		name    string
		specs   specMap
		targets []recipe.PackageName
	}{
		{"mutual", newSpecs(mutualA, mutualB), []recipe.PackageName{"blast", "osgeo-proj"}},
		{"one sided", newSpecs(oneSided, pkg("postgresql")), []recipe.PackageName{"libpq", "postgresql"}},
		{"via dependency", newSpecs(mutualA, mutualB, pkg("app", runtimeDep("blast"))), []recipe.PackageName{"app", "osgeo-proj"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := Resolve(tt.specs, tt.targets, Options{Platform: linux})
			var cpe *ConflictingPackagesError
			if !errors.As(err, &cpe) {
				t.Fatalf("expected ConflictingPackagesError, got %v", err)
			}
			if p != nil {
				t.Error("no plan may be returned on conflict")
			}
			if cpe.Reason == "" {
				t.Error("reason should be carried")
			}
		})
	}
}

func TestResolve_UnknownDependency(t *testing.T) {
	t.Parallel()

	specs := newSpecs(pkg("app", runtimeDep("libmissing")))
	_, err := Resolve(specs, []recipe.PackageName{"app"}, Options{Platform: linux})
	var ude *UnknownDependencyError
	if !errors.As(err, &ude) || ude.Package != "app" || ude.Dependency != "libmissing" {
		t.Errorf("expected UnknownDependencyError app -> libmissing, got %v", err)
	}

	_, err = Resolve(specs, []recipe.PackageName{"nope"}, Options{Platform: linux})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("unknown target: expected ErrUnknownDependency, got %v", err)
	}
}

func TestResolve_ExternalAndOptional(t *testing.T) {
	t.Parallel()

	app := pkg("app",
		runtimeDep("zlib"),
		recipe.Dependency{Name: "poppler", Kind: recipe.KindOptional},
	)
	specs := newSpecs(app)
	p, err := Resolve(specs, []recipe.PackageName{"app"}, Options{
		Platform:    linux,
		Preexisting: prereg.Static{"zlib": {Prefix: "/usr"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, _ := p.Node("app")
	if len(n.Deps) != 1 || n.Deps[0].Name != "zlib" || n.Deps[0].Planned {
		t.Errorf("deps = %+v", n.Deps)
	}
	if len(p.Dropped) != 1 || p.Dropped[0].Name != "poppler" {
		t.Errorf("dropped = %+v", p.Dropped)
	}
	if len(p.Reused) != 1 || !p.Reused[0].External {
		t.Errorf("reused = %+v", p.Reused)
	}
}

func TestResolve_PlatformAndHead(t *testing.T) {
	t.Parallel()

	proj := pkg("proj",
		buildDep("cmake"),
		recipe.Dependency{Name: "curl", Kind: recipe.KindRuntime, Platforms: &platform.Predicate{OS: []platform.OS{platform.Linux}}},
	)
	proj.Head = &recipe.Head{URL: "https://example.invalid/proj.git", Dependencies: []recipe.Dependency{buildDep("doxygen")}}
	specs := newSpecs(proj, pkg("cmake"), pkg("curl"), pkg("doxygen"))

	mac := platform.Platform{OS: platform.MacOS, Arch: platform.ARM64}
	p, err := Resolve(specs, []recipe.PackageName{"proj"}, Options{Platform: mac})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Names(); !slices.Equal(got, []recipe.PackageName{"cmake", "proj"}) {
		t.Errorf("macos stable = %v", got)
	}

	p, err = Resolve(specs, []recipe.PackageName{"proj"}, Options{Platform: linux, Mode: recipe.ModeHead})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Names(); !slices.Equal(got, []recipe.PackageName{"cmake", "curl", "doxygen", "proj"}) {
		t.Errorf("linux head = %v", got)
	}
	n, _ := p.Node("proj")
	if n.Mode != recipe.ModeHead {
		t.Errorf("target mode = %s", n.Mode)
	}
	if got := n.BuildOnly(); !slices.Equal(got, []recipe.PackageName{"cmake", "doxygen"}) {
		t.Errorf("BuildOnly() = %v", got)
	}
	if got := n.RuntimeDeps(); !slices.Equal(got, []recipe.PackageName{"curl"}) {
		t.Errorf("RuntimeDeps() = %v", got)
	}
	if c, _ := p.Node("cmake"); c.Mode != recipe.ModeStable {
		t.Errorf("dependencies build stable, got %s", c.Mode)
	}

	_, err = Resolve(specs, []recipe.PackageName{"cmake"}, Options{Platform: linux, Mode: recipe.ModeHead})
	if !errors.Is(err, ErrNoHeadSource) {
		t.Errorf("expected ErrNoHeadSource, got %v", err)
	}
}

func TestResolve_ReuseInstalled(t *testing.T) {
	t.Parallel()

	l, err := ledger.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ledger.Entry{Name: "A", Version: "1.0", Prefix: "/r/opt/A", Keys: []string{"A"}}); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ledger.Entry{Name: "B", Version: "0.9", Prefix: "/r/opt/B", Keys: []string{"B"}}); err != nil {
		t.Fatal(err)
	}

	specs := newSpecs(pkg("A"), pkg("B"), pkg("C", runtimeDep("A"), runtimeDep("B")))
	installed := prereg.Installed{Ledger: l}

	p, err := Resolve(specs, []recipe.PackageName{"C"}, Options{Platform: linux, Preexisting: installed})
	if err != nil {
		t.Fatal(err)
	}
	// A is installed at the same version; B is outdated and rebuilt.
	if got := p.Names(); !slices.Equal(got, []recipe.PackageName{"B", "C"}) {
		t.Errorf("order = %v, want [B C]", got)
	}

	p, err = Resolve(specs, []recipe.PackageName{"C"}, Options{Platform: linux, Preexisting: installed, RebuildDependencies: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Names(); !slices.Equal(got, []recipe.PackageName{"A", "B", "C"}) {
		t.Errorf("rebuild order = %v", got)
	}

	// Targets are always rebuilt.
	p, err = Resolve(specs, []recipe.PackageName{"A"}, Options{Platform: linux, Preexisting: installed})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Names(); !slices.Equal(got, []recipe.PackageName{"A"}) {
		t.Errorf("target order = %v", got)
	}
}

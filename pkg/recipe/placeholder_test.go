// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"slices"
	"testing"
)

func TestTemplatePlaceholders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tmpl Template
		want []Placeholder
	}{
		{"plain", "--enable-shared", nil},
		{"redirection untouched", "cat < in > out", nil},
		{"dep", "-DTIFF_ROOT=<dep:libtiff:prefix>", []Placeholder{
			{Kind: RefDep, Package: "libtiff", Attr: AttrPrefix, Raw: "<dep:libtiff:prefix>"},
		}},
		{"several", "<self:bin>/proj <testpath>/x <source>", []Placeholder{
			{Kind: RefSelf, Attr: AttrBin, Raw: "<self:bin>"},
			{Kind: RefTestPath, Raw: "<testpath>"},
			{Kind: RefSource, Raw: "<source>"},
		}},
		{"config tool", "<dep:osgeo-gdal:config-tool-path>", []Placeholder{
			{Kind: RefDep, Package: "osgeo-gdal", Attr: AttrConfigToolPath, Raw: "<dep:osgeo-gdal:config-tool-path>"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.tmpl.Placeholders()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Placeholders() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTemplatePlaceholders_Invalid(t *testing.T) {
	t.Parallel()

	for _, tmpl := range []Template{
		"<dep:libtiff>",
		"<dep:libtiff:prefix",
		"<self:etc>",
		"<dep:Bad_Name:lib>",
		"<source:x>",
	} {
		t.Run(string(tmpl), func(t *testing.T) {
			t.Parallel()

			_, err := tmpl.Placeholders()
			if !errors.Is(err, ErrInvalidPlaceholder) {
				t.Errorf("expected ErrInvalidPlaceholder, got %v", err)
			}
		})
	}
}

func TestTemplateExpand(t *testing.T) {
	t.Parallel()

	values := map[string]string{
		"<dep:libtiff:lib>": "/root/opt/libtiff/lib",
		"<self:prefix>":     "/root/opt/osgeo-proj",
	}
	got, err := Template("-L<dep:libtiff:lib> --prefix=<self:prefix>").Expand(func(p Placeholder) (string, error) {
		return values[p.Raw], nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "-L/root/opt/libtiff/lib --prefix=/root/opt/osgeo-proj"; got != want {
		t.Errorf("Expand() = %q, want %q", got, want)
	}

	sentinel := errors.New("unresolved")
	_, err = Template("<dep:x:prefix>").Expand(func(Placeholder) (string, error) { return "", sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("expand error not propagated: %v", err)
	}
}

func TestBuildStepInvocation(t *testing.T) {
	t.Parallel()

	prog, args := BuildStep{Tool: ToolConfigure, Args: []Template{"--without-x"}}.Invocation()
	if prog != "./configure" || args[0] != "--without-x" || !slices.Contains(args, "--prefix=<self:prefix>") {
		t.Errorf("configure = %s %v", prog, args)
	}

	_, args = BuildStep{Tool: ToolCMake, Args: []Template{"-S", ".", "-B", "build"}}.Invocation()
	if !slices.Contains(args, "-DCMAKE_BUILD_TYPE=Release") {
		t.Errorf("cmake configure missing std args: %v", args)
	}

	_, args = BuildStep{Tool: ToolCMake, Args: []Template{"--build", "build"}}.Invocation()
	if len(args) != 2 {
		t.Errorf("cmake --build should not get std args: %v", args)
	}

	prog, args = BuildStep{Tool: ToolCommand, Args: []Template{"make", "install"}}.Invocation()
	if prog != "make" || !slices.Equal(args, []Template{"install"}) {
		t.Errorf("command = %s %v", prog, args)
	}
}

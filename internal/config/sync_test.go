// SPDX-License-Identifier: MPL-2.0

package config

import (
	"reflect"
	"slices"
	"strings"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// These tests keep the Go struct tags and the CUE schema field names aligned.
// A mismatch would silently drop values during decoding.

func cueFields(t *testing.T, val cue.Value) []string {
	t.Helper()

	iter, err := val.Fields(cue.Definitions(false), cue.Optional(true))
	if err != nil {
		t.Fatalf("failed to iterate CUE fields: %v", err)
	}

	var fields []string
	for iter.Next() {
		sel := iter.Selector()
		if sel.LabelType().IsHidden() || sel.IsDefinition() {
			continue
		}
		fields = append(fields, strings.TrimSuffix(sel.String(), "?"))
	}
	slices.Sort(fields)
	return fields
}

func goTags(t *testing.T, typ reflect.Type) []string {
	t.Helper()

	var tags []string
	for i := range typ.NumField() {
		tag := typ.Field(i).Tag.Get("mapstructure")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			t.Fatalf("%s.%s has no mapstructure tag", typ.Name(), typ.Field(i).Name)
		}
		if json, _, _ := strings.Cut(typ.Field(i).Tag.Get("json"), ","); json != name {
			t.Errorf("%s.%s: json tag %q differs from mapstructure tag %q", typ.Name(), typ.Field(i).Name, json, name)
		}
		tags = append(tags, name)
	}
	slices.Sort(tags)
	return tags
}

func TestConfigSchemaSync(t *testing.T) {
	t.Parallel()

	schema := cuecontext.New().CompileString(configSchema)
	if err := schema.Err(); err != nil {
		t.Fatalf("schema does not compile: %v", err)
	}

	tests := []struct {
		def string
		typ reflect.Type
	}{
		{"#Config", reflect.TypeFor[Config]()},
		{"#Platform", reflect.TypeFor[PlatformConfig]()},
		{"#Log", reflect.TypeFor[LogConfig]()},
		{"#Env", reflect.TypeFor[EnvConfig]()},
		{"#External", reflect.TypeFor[ExternalConfig]()},
	}

	for _, tt := range tests {
		// cue.Value is not safe for concurrent use; subtests run serially.
		t.Run(tt.def, func(t *testing.T) {
			val := schema.LookupPath(cue.ParsePath(tt.def))
			if !val.Exists() {
				t.Fatalf("schema has no %s", tt.def)
			}

			got := cueFields(t, val)
			want := goTags(t, tt.typ)
			if !slices.Equal(got, want) {
				t.Errorf("CUE fields %v, Go tags %v", got, want)
			}
		})
	}
}

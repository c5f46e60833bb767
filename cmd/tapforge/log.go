// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/tapforge/tapforge/internal/buildlog"
	"github.com/tapforge/tapforge/internal/issue"
	"github.com/tapforge/tapforge/pkg/recipe"
)

func newLogCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "log <package>",
		Short: "Print the last build log of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := recipe.PackageName(args[0])
			if err := name.Validate(); err != nil {
				return a.fail(err)
			}
			data, err := buildlog.Read(a.cfg.Root, name)
			if err != nil {
				ctx := issue.NewErrorContext().
					WithOperation("read build log").
					WithResource(buildlog.PathFor(a.cfg.Root, name))
				if errors.Is(err, fs.ErrNotExist) {
					ctx = ctx.WithSuggestion("Build the package first with 'tapforge build " + string(name) + "'")
				}
				return a.fail(ctx.Wrap(err).BuildError())
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUninstallCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <package>...",
		Short: "Forget installed packages and release their artifact claims",
		Long: `Forget installed packages and release their artifact claims.

The package records are removed from the claim ledger so other packages may
claim the same artifacts. Files under the package prefix are left in place.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := targetNames(args)
			if err != nil {
				return a.fail(err)
			}
			o, err := a.orchestrator(nil)
			if err != nil {
				return a.fail(err)
			}
			if err := o.Uninstall(cmd.Context(), names); err != nil {
				return a.fail(wrapUninstall(err))
			}
			for _, n := range names {
				fmt.Fprintf(a.stdout, "%s %s\n", SuccessStyle.Render("✓ uninstalled"), NameStyle.Render(string(n)))
			}
			return nil
		},
	}
}

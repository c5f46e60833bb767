// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/tapforge/tapforge/internal/app/orchestrator"
	"github.com/tapforge/tapforge/internal/build"
	"github.com/tapforge/tapforge/internal/issue"
	"github.com/tapforge/tapforge/pkg/recipe"
)

func newBuildCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build <package>...",
		Short: "Build, install and test packages and their dependencies",
		Long: `Build, install and test packages and their dependencies.

Requested packages are always rebuilt. Dependencies already installed at the
wanted version are reused unless --rebuild-dependencies is set. With --head
the requested packages build from their head source; dependencies always
build their stable release.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := targetNames(args)
			if err != nil {
				return a.fail(err)
			}
			o, err := a.orchestrator(nil)
			if err != nil {
				return a.fail(err)
			}
			p, err := o.Plan(cmd.Context(), targets)
			if err != nil {
				return a.fail(err)
			}

			prog := newProgress(a.stderr, len(p.Order), a.verbose, a.logger)
			report, err := o.Execute(cmd.Context(), p, prog)
			prog.Finish()
			if report != nil {
				a.printReport(report)
				printCaveats(a.stdout, o.Caveats(report))
			}
			if err != nil {
				return a.fail(err)
			}
			if !report.Success() {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}

func newTestCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test <package>...",
		Short: "Rerun the tests of installed packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := targetNames(args)
			if err != nil {
				return a.fail(err)
			}
			o, err := a.orchestrator(nil)
			if err != nil {
				return a.fail(err)
			}
			report, err := o.Test(cmd.Context(), targets)
			if report != nil {
				a.printReport(report)
			}
			if err != nil {
				return a.fail(err)
			}
			if !report.Success() {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}

// printReport writes one line per package and the catalog entries of the
// failures.
func (a *app) printReport(r *orchestrator.Report) {
	width := 0
	for _, res := range r.Results {
		width = max(width, len(res.Name))
	}

	for _, res := range r.Results {
		style := stateStyle(res.State)
		line := fmt.Sprintf("%s %s %-10s %s",
			style.Render(stateMark(res.State)),
			NameStyle.Render(fmt.Sprintf("%-*s", width, res.Name)),
			res.Version,
			style.Render(fmt.Sprintf("%-11s", res.State)))
		if res.Duration > 0 {
			line += " " + SubtitleStyle.Render(res.Duration.Round(100*time.Millisecond).String())
		}
		fmt.Fprintln(a.stdout, line)
		if res.Err != nil {
			fmt.Fprintf(a.stdout, "    %s\n", res.Err)
		}
	}

	failed := r.Failed()
	if len(failed) == 0 {
		return
	}

	var ids []issue.Id
	for _, res := range failed {
		if id := issueFor(res.Err); id != 0 {
			ids = append(ids, id)
		}
	}
	logs := slices.DeleteFunc(slices.Clone(failed), func(res *build.Result) bool {
		return res.LogPath == "" || res.State == build.Skipped
	})
	if len(logs) > 0 {
		fmt.Fprintln(a.stdout)
		for _, res := range logs {
			fmt.Fprintf(a.stdout, "%s tapforge log %s\n", SubtitleStyle.Render("build log:"), res.Name)
		}
	}
	a.renderIssues(ids)
}

func printCaveats(w io.Writer, caveats map[recipe.PackageName]string) {
	for _, name := range slices.Sorted(maps.Keys(caveats)) {
		fmt.Fprintln(w)
		fmt.Fprintln(w, WarningStyle.Render("==> Caveats for "+string(name)))
		fmt.Fprintln(w, caveatStyle.Render(caveats[name]))
	}
}

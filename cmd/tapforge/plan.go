// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tapforge/tapforge/internal/plan"
	"github.com/tapforge/tapforge/pkg/recipe"
)

func newPlanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <package>...",
		Short: "Show the build order for packages without building",
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
			p, err := o.Plan(cmd.Context(), targets)
			if err != nil {
				return a.fail(err)
			}
			printPlan(a.stdout, p)
			return nil
		},
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// printPlan writes the numbered build order with the reused and dropped
// dependencies.
func printPlan(w io.Writer, p *plan.Plan) {
	fmt.Fprintf(w, "%s %s\n", TitleStyle.Render("Build plan"),
		SubtitleStyle.Render(fmt.Sprintf("(%s, fingerprint %s)", p.Platform, shortFingerprint(p.Fingerprint))))

	width := 0
	for _, n := range p.Order {
		width = max(width, len(n.Name()))
	}

	for i, n := range p.Order {
		line := fmt.Sprintf("%3d. %s %s %s", i+1,
			NameStyle.Render(fmt.Sprintf("%-*s", width, n.Name())),
			n.Spec.Version,
			SubtitleStyle.Render(string(n.Mode)))
		if n.Target {
			line += " " + SuccessStyle.Render("target")
		}
		if deps := describeEdges(n.Deps); deps != "" {
			line += SubtitleStyle.Render("  <- " + deps)
		}
		fmt.Fprintln(w, line)
	}

	if len(p.Reused) > 0 {
		parts := make([]string, 0, len(p.Reused))
		for _, r := range p.Reused {
			switch {
			case r.External:
				parts = append(parts, string(r.Name)+" (external)")
			default:
				parts = append(parts, fmt.Sprintf("%s %s (installed)", r.Name, r.Version))
			}
		}
		fmt.Fprintf(w, "\n%s %s\n", SubtitleStyle.Render("Already available:"), strings.Join(parts, ", "))
	}
	if len(p.Dropped) > 0 {
		parts := make([]string, 0, len(p.Dropped))
		for _, e := range p.Dropped {
			parts = append(parts, string(e.Name))
		}
		fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render("Optional, not in tap:"), strings.Join(parts, ", "))
	}
}

func describeEdges(edges []plan.Edge) string {
	parts := make([]string, 0, len(edges))
	for _, e := range edges {
		s := string(e.Name)
		if e.Kind == recipe.KindBuild {
			s += " (build)"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

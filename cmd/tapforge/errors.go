// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tapforge/tapforge/internal/app/orchestrator"
	"github.com/tapforge/tapforge/internal/build"
	"github.com/tapforge/tapforge/internal/conflict"
	"github.com/tapforge/tapforge/internal/issue"
	"github.com/tapforge/tapforge/internal/ledger"
	"github.com/tapforge/tapforge/internal/plan"
	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/internal/source"
	"github.com/tapforge/tapforge/internal/verify"
	"github.com/tapforge/tapforge/pkg/recipe"
)

// issueRules maps error kinds to catalog entries. Order matters: a timeout
// is also reported as a build failure, and a dependency failure may wrap
// the failure it cites.
var issueRules = []struct {
	target error
	id     issue.Id
}{
	{plan.ErrUnknownDependency, issue.UnknownDependencyId},
	{plan.ErrCyclicDependency, issue.DependencyCycleId},
	{plan.ErrConflictingPackages, issue.ConflictingPackagesId},
	{plan.ErrNoHeadSource, issue.NoHeadSourceId},
	{build.ErrDependencyFailed, issue.DependencyFailedId},
	{build.ErrPlanHalted, issue.PlanHaltedId},
	{build.ErrTimeout, issue.BuildTimeoutId},
	{conflict.ErrArtifactConflict, issue.ArtifactConflictId},
	{source.ErrSourceNotFound, issue.SourceNotFoundId},
	{resolver.ErrUnresolvedDependencyPath, issue.UnresolvedDependencyPathId},
	{verify.ErrTestFailed, issue.TestFailedId},
	{build.ErrBuildFailed, issue.BuildFailedId},
	{ledger.ErrChecksumMismatch, issue.LedgerCorruptId},
	{recipe.ErrDuplicatePackage, issue.RecipeParseFailedId},
}

// issueFor returns the catalog entry describing err, or 0.
func issueFor(err error) issue.Id {
	if err == nil {
		return 0
	}
	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.Issue != 0 {
		return ae.Issue
	}
	for _, rule := range issueRules {
		if errors.Is(err, rule.target) {
			return rule.id
		}
	}
	return 0
}

// formatError formats err for display. Actionable errors carry suggestions;
// verbose mode adds the error chain.
func formatError(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// fail prints err with its catalog entry and returns an exit error.
func (a *app) fail(err error) error {
	fmt.Fprintln(a.stderr, ErrorStyle.Render("Error: ")+formatError(err, a.verbose))
	if id := issueFor(err); id != 0 {
		a.renderIssues([]issue.Id{id})
	}
	return &ExitError{Code: 1}
}

// renderIssues prints each catalog entry once.
func (a *app) renderIssues(ids []issue.Id) {
	slices.Sort(ids)
	for _, id := range slices.Compact(ids) {
		entry := issue.Get(id)
		if entry == nil {
			continue
		}
		rendered, err := entry.Render("dark")
		if err != nil {
			a.logger.Debug("failed to render issue", "id", id, "error", err)
			continue
		}
		fmt.Fprint(a.stderr, rendered)
	}
}

// wrapUninstall attaches guidance to a failed uninstall.
func wrapUninstall(err error) error {
	var ni *orchestrator.NotInstalledError
	if !errors.As(err, &ni) {
		return err
	}
	return issue.NewErrorContext().
		WithOperation("uninstall").
		WithResource(string(ni.Package)).
		WithSuggestion("Run 'tapforge config show' to check which root is in use").
		Wrap(err).
		BuildError()
}

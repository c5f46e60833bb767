// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	RecipeParseFailedId
	UnknownDependencyId
	DependencyCycleId
	ConflictingPackagesId
	ArtifactConflictId
	UnresolvedDependencyPathId
	BuildFailedId
	BuildTimeoutId
	TestFailedId
	DependencyFailedId
	PlanHaltedId
	NoHeadSourceId
	SourceNotFoundId
	LedgerCorruptId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue as terminal markdown with the given glamour style.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
		for _, link := range i.extLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load the configuration

tapforge reads ` + "`config.cue`" + ` from the configuration directory, or the file
given with ` + "`--config`" + `. The file must validate against the built-in schema.

## Things you can try:
- Show the effective configuration:
~~~
$ tapforge config show
~~~
- Check the field names: root, recipe_paths, sources_dir, jobs, timeout,
  keep_going, rebuild_dependencies, build_mode, platform, log, env, external.
- Environment variables such as ` + "`TAPFORGE_JOBS`" + ` override file values.`,
	}

	recipeParseFailedIssue = &Issue{
		id: RecipeParseFailedId,
		mdMsg: `
# A recipe could not be loaded

Every ` + "`*.cue`" + ` file under the recipe paths must describe exactly one package.

## Things you can try:
- Look at the reported field path; it points at the offending value.
- Placeholders take the forms ` + "`<dep:NAME:ATTR>`" + `, ` + "`<self:ATTR>`" + `,
  ` + "`<source>`" + ` and, in tests only, ` + "`<testpath>`" + `.
- A ` + "`<dep:...>`" + ` placeholder must name a declared dependency.
- Shell steps take exactly one argument holding the whole snippet.`,
	}

	unknownDependencyIssue = &Issue{
		id: UnknownDependencyId,
		mdMsg: `
# Unknown dependency

A recipe depends on a package that no recipe provides and that is not
declared as an external package.

## Things you can try:
- Add a recipe for it to one of the recipe paths.
- Declare a system installation in the configuration:
~~~cue
external: [{name: "zlib", prefix: "/usr"}]
~~~
- Mark the dependency ` + "`optional`" + ` if the package builds without it.`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Dependency cycle detected

The build and runtime dependencies form a loop, so no build order exists.
The error lists the full path of the cycle.

## Things you can try:
- Remove one edge of the cycle.
- Turn a dependency that is only needed to run tests into an ` + "`optional`" + ` one
  guarded by a platform predicate.`,
	}

	conflictingPackagesIssue = &Issue{
		id: ConflictingPackagesId,
		mdMsg: `
# Conflicting packages in one plan

Two packages of the requested set declare a conflict with each other and
cannot share an installation root. Nothing was built.

## Things you can try:
- Build them into separate roots with ` + "`--root`" + `.
- Drop one of them from the targets.`,
	}

	artifactConflictIssue = &Issue{
		id: ArtifactConflictId,
		mdMsg: `
# Artifact already claimed

Another package, from this run or an earlier one, already owns an artifact
key this package wants to install.

## Things you can try:
- Uninstall the holder first:
~~~
$ tapforge uninstall <holder>
~~~
- Install into a different root.`,
	}

	unresolvedDependencyPathIssue = &Issue{
		id: UnresolvedDependencyPathId,
		mdMsg: `
# Dependency path not available

A placeholder referenced a package whose layout is unknown. Either it is not
installed yet, or it is a build-only dependency referenced during tests.

## Things you can try:
- Build the package before testing it:
~~~
$ tapforge build <name>
~~~
- Declare the referenced package as a runtime dependency if tests need it.`,
	}

	buildFailedIssue = &Issue{
		id: BuildFailedId,
		mdMsg: `
# Build step failed

A build step exited with a non-zero status. The last lines of its output
are shown above; the full log is kept under ` + "`var/tapforge/logs`" + ` in the root.

## Things you can try:
- Read the full log:
~~~
$ tapforge log <name>
~~~
- Retry with ` + "`--jobs 1`" + ` if the failure looks like a parallel make race,
  or set ` + "`deparallelize: true`" + ` in the recipe.`,
	}

	buildTimeoutIssue = &Issue{
		id: BuildTimeoutId,
		mdMsg: `
# Build timed out

The package did not finish within the configured timeout and its processes
were killed.

## Things you can try:
- Raise the limit with ` + "`--timeout`" + ` or the ` + "`timeout`" + ` setting.
- Set ` + "`timeout: \"0s\"`" + ` to disable it.`,
	}

	testFailedIssue = &Issue{
		id: TestFailedId,
		mdMsg: `
# Smoke test failed

The package installed but one of its test cases did not produce the
expected result. The package stays installed.

## Things you can try:
- Re-run only the tests:
~~~
$ tapforge test <name>
~~~
- Exact matchers compare byte for byte after dropping one trailing newline.`,
	}

	dependencyFailedIssue = &Issue{
		id: DependencyFailedId,
		mdMsg: `
# Not built because a dependency failed

The package was never started. Fix the package named as the cause and
build again; dependents are retried automatically.`,
	}

	planHaltedIssue = &Issue{
		id: PlanHaltedId,
		mdMsg: `
# Build halted

An unrelated package failed and the remaining packages were not started.

## Things you can try:
- Pass ` + "`--keep-going`" + ` to build everything that does not depend on the failure.`,
	}

	noHeadSourceIssue = &Issue{
		id: NoHeadSourceId,
		mdMsg: `
# No head source

Head mode was requested for a recipe that has no ` + "`head`" + ` block.

## Things you can try:
- Build the stable release instead (drop ` + "`--head`" + `).
- Add a head block with the repository URL to the recipe.`,
	}

	sourceNotFoundIssue = &Issue{
		id: SourceNotFoundId,
		mdMsg: `
# Source tree not found

tapforge does not download or unpack sources. It expects an extracted tree
under the sources directory named ` + "`<name>-<version>`" + `, ` + "`<name>-head`" + ` or
` + "`<name>`" + `.

## Things you can try:
- Unpack the release archive into the sources directory.
- Point ` + "`sources_dir`" + ` at the right directory.`,
	}

	ledgerCorruptIssue = &Issue{
		id: LedgerCorruptId,
		mdMsg: `
# Claim ledger is damaged

The file ` + "`var/tapforge/claims.toml`" + ` failed its checksum. It was edited by hand
or written by an interrupted process.

## Things you can try:
- Restore it from a backup.
- Remove it and rebuild the packages of the root.`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():         configLoadFailedIssue,
		recipeParseFailedIssue.Id():        recipeParseFailedIssue,
		unknownDependencyIssue.Id():        unknownDependencyIssue,
		dependencyCycleIssue.Id():          dependencyCycleIssue,
		conflictingPackagesIssue.Id():      conflictingPackagesIssue,
		artifactConflictIssue.Id():         artifactConflictIssue,
		unresolvedDependencyPathIssue.Id(): unresolvedDependencyPathIssue,
		buildFailedIssue.Id():              buildFailedIssue,
		buildTimeoutIssue.Id():             buildTimeoutIssue,
		testFailedIssue.Id():               testFailedIssue,
		dependencyFailedIssue.Id():         dependencyFailedIssue,
		planHaltedIssue.Id():               planHaltedIssue,
		noHeadSourceIssue.Id():             noHeadSourceIssue,
		sourceNotFoundIssue.Id():           sourceNotFoundIssue,
		ledgerCorruptIssue.Id():            ledgerCorruptIssue,
	}
)

// Values returns every issue ordered by id.
func Values() []*Issue {
	all := maps.Clone(issues)
	out := make([]*Issue, 0, len(all))
	for _, i := range all {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}

package pipeline

import (
	"testing"

	"github.com/slipwayci/slipway/internal/event"
)

func compiled(t *testing.T, specs ...PipelineSpec) *Set {
	t.Helper()
	set, err := CompileSpecs(specs)
	if err != nil {
		t.Fatalf("CompileSpecs: %v", err)
	}
	return set
}

func TestMatchesPushBranchGlobs(t *testing.T) {
	t.Parallel()

	spec := ciSpec()
	spec.On = TriggerSpec{Push: &PushFilter{Branches: []string{"main", "release/*"}}}
	set := compiled(t, spec)
	p := set.Pipelines["ci"]

	tests := []struct {
		branch string
		want   bool
	}{
		{"main", true},
		{"release/1.2", true},
		{"feature/x", false},
		{"", false},
	}
	for _, tt := range tests {
		ev := event.Event{Kind: event.KindPush, Branch: tt.branch}
		if got := p.Matches(ev); got != tt.want {
			t.Errorf("Matches(push %q) = %v, want %v", tt.branch, got, tt.want)
		}
	}
}

func TestMatchesEmptyBranchListAcceptsAny(t *testing.T) {
	t.Parallel()

	set := compiled(t, ciSpec())
	p := set.Pipelines["ci"]

	if !p.Matches(event.Event{Kind: event.KindPush, Branch: "anything"}) {
		t.Fatal("push with empty branch filter should match any branch")
	}
	if !p.Matches(event.Event{Kind: event.KindPullRequest, Branch: "feat", TargetBranch: "main"}) {
		t.Fatal("pull_request with empty branch filter should match any target")
	}
	if p.Matches(event.Event{Kind: event.KindRelease, ReleaseAction: "published"}) {
		t.Fatal("ci has no release trigger; release event must not match")
	}
}

func TestMatchesPullRequestUsesTargetBranch(t *testing.T) {
	t.Parallel()

	spec := ciSpec()
	spec.On = TriggerSpec{PullRequest: &PullRequestFilter{Branches: []string{"main"}}}
	set := compiled(t, spec)
	p := set.Pipelines["ci"]

	// Source branch is irrelevant; only the target is filtered.
	ev := event.Event{Kind: event.KindPullRequest, Branch: "main", TargetBranch: "develop"}
	if p.Matches(ev) {
		t.Fatal("matched on source branch instead of target branch")
	}
	ev = event.Event{Kind: event.KindPullRequest, Branch: "feat", TargetBranch: "main"}
	if !p.Matches(ev) {
		t.Fatal("expected match on target branch main")
	}
}

func TestMatchesReleaseActions(t *testing.T) {
	t.Parallel()

	spec := PipelineSpec{
		Name: "publish",
		On: TriggerSpec{
			Push:    &PushFilter{Branches: []string{"main"}},
			Release: &ReleaseFilter{Types: []string{"published"}},
		},
		Steps: []StepSpec{{Name: "build-and-push", Publish: &PublishSpec{}}},
	}
	set := compiled(t, spec)
	p := set.Pipelines["publish"]

	if !p.Matches(event.Event{Kind: event.KindRelease, ReleaseAction: "published", Tag: "v1.0.0"}) {
		t.Fatal("published release should match")
	}
	if p.Matches(event.Event{Kind: event.KindRelease, ReleaseAction: "created", Tag: "v1.0.0"}) {
		t.Fatal("created release must not match")
	}
	if !p.Matches(event.Event{Kind: event.KindPush, Branch: "main"}) {
		t.Fatal("push to main should match")
	}
	if p.Matches(event.Event{Kind: event.KindPush, Branch: "develop"}) {
		t.Fatal("push to develop must not match")
	}
}

func TestSetMatchReturnsSortedMatches(t *testing.T) {
	t.Parallel()

	publish := PipelineSpec{
		Name:  "publish",
		On:    TriggerSpec{Push: &PushFilter{Branches: []string{"main"}}},
		Steps: []StepSpec{{Name: "build-and-push", Publish: &PublishSpec{}}},
	}
	set := compiled(t, ciSpec(), publish)

	matched := set.Match(event.Event{Kind: event.KindPush, Branch: "main"})
	if len(matched) != 2 {
		t.Fatalf("got %d matches, want 2", len(matched))
	}
	if matched[0].Name != "ci" || matched[1].Name != "publish" {
		t.Fatalf("matches not sorted by name: %s, %s", matched[0].Name, matched[1].Name)
	}

	matched = set.Match(event.Event{Kind: event.KindPush, Branch: "feature/x"})
	if len(matched) != 1 || matched[0].Name != "ci" {
		t.Fatalf("feature branch should match only ci, got %d", len(matched))
	}
}

func TestExpandMatrixCartesianProduct(t *testing.T) {
	t.Parallel()

	spec := ciSpec()
	spec.Matrix = map[string][]string{
		"toolchain": {"stable", "beta", "nightly"},
		"profile":   {"debug", "release"},
	}
	// The guard references only toolchain, which still exists.
	set := compiled(t, spec)
	plans := set.Pipelines["ci"].Expand()

	if len(plans) != 6 {
		t.Fatalf("got %d plans, want 6", len(plans))
	}

	seen := map[string]bool{}
	for _, plan := range plans {
		key := plan.Axis["toolchain"] + "/" + plan.Axis["profile"]
		if seen[key] {
			t.Fatalf("duplicate axis combination %s", key)
		}
		seen[key] = true
	}

	// Deterministic ordering: profile sorts before toolchain, values in
	// declaration order.
	if plans[0].Axis["profile"] != "debug" || plans[0].Axis["toolchain"] != "stable" {
		t.Fatalf("unexpected first plan: %#v", plans[0].Axis)
	}
}

func TestExpandWithoutMatrixYieldsSinglePlan(t *testing.T) {
	t.Parallel()

	spec := ciSpec()
	spec.Matrix = nil
	spec.Steps[2].If = "event.branch == 'main'" // matrix guard has no axis anymore
	set := compiled(t, spec)

	plans := set.Pipelines["ci"].Expand()
	if len(plans) != 1 {
		t.Fatalf("got %d plans, want 1", len(plans))
	}
	if len(plans[0].Axis) != 0 {
		t.Fatalf("expected empty axis, got %#v", plans[0].Axis)
	}
}

func TestGuardEval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr string
		axis map[string]string
		ev   event.Event
		want bool
	}{
		{"matrix.toolchain == 'nightly'", map[string]string{"toolchain": "nightly"}, event.Event{}, true},
		{"matrix.toolchain == 'nightly'", map[string]string{"toolchain": "stable"}, event.Event{}, false},
		{"matrix.toolchain != 'nightly'", map[string]string{"toolchain": "beta"}, event.Event{}, true},
		{"event.kind == 'push'", nil, event.Event{Kind: event.KindPush}, true},
		{"event.branch == 'main'", nil, event.Event{Kind: event.KindPush, Branch: "main"}, true},
		{"event.reference == 'v1.0.0'", nil, event.Event{Kind: event.KindRelease, ReleaseAction: "published", Tag: "v1.0.0"}, true},
		{`event.target_branch == "main"`, nil, event.Event{Kind: event.KindPullRequest, TargetBranch: "main"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			g, err := ParseGuard(tt.expr)
			if err != nil {
				t.Fatalf("ParseGuard(%q): %v", tt.expr, err)
			}
			if got := g.Eval(tt.axis, tt.ev); got != tt.want {
				t.Fatalf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestParseGuardRejectsMalformedExpressions(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{
		"",
		"matrix.toolchain",
		"matrix.toolchain = 'nightly'",
		"== 'nightly'",
		"matrix.toolchain == nightly",
		"matrix.toolchain == 'nightly",
	} {
		if _, err := ParseGuard(expr); err == nil {
			t.Errorf("ParseGuard(%q) succeeded, want error", expr)
		}
	}
}

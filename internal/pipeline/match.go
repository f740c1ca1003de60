package pipeline

import (
	"path"

	"github.com/slipwayci/slipway/internal/event"
)

// Matches reports whether ev qualifies to start this pipeline.
func (p *Pipeline) Matches(ev event.Event) bool {
	switch ev.Kind {
	case event.KindPush:
		return p.Trigger.Push != nil && branchMatches(p.Trigger.Push.Branches, ev.Branch)
	case event.KindPullRequest:
		return p.Trigger.PullRequest != nil && branchMatches(p.Trigger.PullRequest.Branches, ev.TargetBranch)
	case event.KindRelease:
		return p.Trigger.Release != nil && actionMatches(p.Trigger.Release.Types, ev.ReleaseAction)
	}
	return false
}

// Match returns the pipelines in the set that ev qualifies to start,
// in sorted name order.
func (s *Set) Match(ev event.Event) []*Pipeline {
	var out []*Pipeline
	for _, name := range s.Names() {
		p := s.Pipelines[name]
		if p.Matches(ev) {
			out = append(out, p)
		}
	}
	return out
}

// branchMatches tests a branch name against glob patterns. An empty
// pattern list accepts any branch.
func branchMatches(patterns []string, branch string) bool {
	if branch == "" {
		return false
	}
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, branch); err == nil && ok {
			return true
		}
	}
	return false
}

func actionMatches(types []string, action string) bool {
	if action == "" {
		return false
	}
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == action {
			return true
		}
	}
	return false
}

package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind is the trigger event variant.
type Kind string

const (
	KindPush        Kind = "push"
	KindPullRequest Kind = "pull_request"
	KindRelease     Kind = "release"
)

// Event is one trigger event received from a source (webhook or manual
// injection). It determines whether pipeline runs are created.
type Event struct {
	Kind Kind `json:"kind"`

	// Branch is the pushed branch (push) or source branch (pull_request).
	Branch string `json:"branch,omitempty"`

	// TargetBranch is the branch a pull request targets.
	TargetBranch string `json:"target_branch,omitempty"`

	// ReleaseAction is the release event action, e.g. "published".
	ReleaseAction string `json:"release_action,omitempty"`

	// Tag is the release tag name (release events only).
	Tag string `json:"tag,omitempty"`

	// Commit is the head commit SHA, when the source supplies one.
	Commit string `json:"commit,omitempty"`

	// Injected by core (not set by sources).
	Source     string    `json:"source,omitempty"`
	EventID    string    `json:"event_id,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Reference returns the git reference an image tag is derived from:
// the release tag for release events, the branch name otherwise.
func (e Event) Reference() string {
	if e.Kind == KindRelease && e.Tag != "" {
		return e.Tag
	}
	return e.Branch
}

// Validate checks that the event carries the fields its kind requires.
func (e Event) Validate() error {
	switch e.Kind {
	case KindPush:
		if e.Branch == "" {
			return fmt.Errorf("push event requires branch")
		}
	case KindPullRequest:
		if e.TargetBranch == "" {
			return fmt.Errorf("pull_request event requires target_branch")
		}
	case KindRelease:
		if e.ReleaseAction == "" {
			return fmt.Errorf("release event requires release_action")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// pushPayload, prPayload and releasePayload mirror the subset of the
// GitHub webhook payloads slipway understands.
type pushPayload struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
}

type prPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
}

type releasePayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName string `json:"tag_name"`
	} `json:"release"`
}

// ParseWebhook converts a raw webhook body into an Event. eventType is
// the source's event name (e.g. the X-GitHub-Event header value).
func ParseWebhook(eventType string, body []byte) (Event, error) {
	switch eventType {
	case "push":
		var p pushPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return Event{}, fmt.Errorf("parse push payload: %w", err)
		}
		branch := strings.TrimPrefix(p.Ref, "refs/heads/")
		if branch == "" {
			return Event{}, fmt.Errorf("push payload missing ref")
		}
		return Event{Kind: KindPush, Branch: branch, Commit: p.After}, nil

	case "pull_request":
		var p prPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return Event{}, fmt.Errorf("parse pull_request payload: %w", err)
		}
		if p.PullRequest.Base.Ref == "" {
			return Event{}, fmt.Errorf("pull_request payload missing base ref")
		}
		return Event{
			Kind:         KindPullRequest,
			Branch:       p.PullRequest.Head.Ref,
			TargetBranch: p.PullRequest.Base.Ref,
			Commit:       p.PullRequest.Head.SHA,
		}, nil

	case "release":
		var p releasePayload
		if err := json.Unmarshal(body, &p); err != nil {
			return Event{}, fmt.Errorf("parse release payload: %w", err)
		}
		if p.Action == "" {
			return Event{}, fmt.Errorf("release payload missing action")
		}
		return Event{
			Kind:          KindRelease,
			ReleaseAction: p.Action,
			Tag:           p.Release.TagName,
		}, nil
	}

	return Event{}, fmt.Errorf("unsupported event type %q", eventType)
}

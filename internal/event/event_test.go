package event

import (
	"strings"
	"testing"
)

func TestParseWebhookPush(t *testing.T) {
	t.Parallel()

	body := []byte(`{"ref": "refs/heads/main", "after": "deadbeefcafe"}`)
	ev, err := ParseWebhook("push", body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.Kind != KindPush || ev.Branch != "main" || ev.Commit != "deadbeefcafe" {
		t.Fatalf("unexpected event: %#v", ev)
	}
	if ev.Reference() != "main" {
		t.Fatalf("Reference() = %q", ev.Reference())
	}
}

func TestParseWebhookPushKeepsNonBranchRef(t *testing.T) {
	t.Parallel()

	// Tag pushes arrive with refs/tags/; the prefix strip only applies
	// to branch refs, the raw ref is kept otherwise.
	ev, err := ParseWebhook("push", []byte(`{"ref": "refs/tags/v1.0.0"}`))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.Branch != "refs/tags/v1.0.0" {
		t.Fatalf("branch = %q", ev.Branch)
	}
}

func TestParseWebhookPullRequest(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"action": "opened",
		"pull_request": {
			"head": {"ref": "feature/login", "sha": "abc123"},
			"base": {"ref": "main"}
		}
	}`)
	ev, err := ParseWebhook("pull_request", body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.Kind != KindPullRequest || ev.Branch != "feature/login" || ev.TargetBranch != "main" || ev.Commit != "abc123" {
		t.Fatalf("unexpected event: %#v", ev)
	}
}

func TestParseWebhookRelease(t *testing.T) {
	t.Parallel()

	body := []byte(`{"action": "published", "release": {"tag_name": "v2.1.0"}}`)
	ev, err := ParseWebhook("release", body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.Kind != KindRelease || ev.ReleaseAction != "published" || ev.Tag != "v2.1.0" {
		t.Fatalf("unexpected event: %#v", ev)
	}
	if ev.Reference() != "v2.1.0" {
		t.Fatalf("Reference() = %q", ev.Reference())
	}
}

func TestParseWebhookErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		eventType string
		body      string
		wantErr   string
	}{
		{"unsupported type", "deployment", `{}`, "unsupported event type"},
		{"push missing ref", "push", `{}`, "missing ref"},
		{"pr missing base", "pull_request", `{"pull_request": {}}`, "missing base ref"},
		{"release missing action", "release", `{"release": {"tag_name": "v1"}}`, "missing action"},
		{"bad json", "push", `{`, "parse push payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWebhook(tt.eventType, []byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := []Event{
		{Kind: KindPush, Branch: "main"},
		{Kind: KindPullRequest, TargetBranch: "main"},
		{Kind: KindRelease, ReleaseAction: "published"},
	}
	for _, ev := range valid {
		if err := ev.Validate(); err != nil {
			t.Errorf("Validate(%#v): %v", ev, err)
		}
	}

	invalid := []Event{
		{},
		{Kind: "deploy"},
		{Kind: KindPush},
		{Kind: KindPullRequest, Branch: "feat"},
		{Kind: KindRelease, Tag: "v1"},
	}
	for _, ev := range invalid {
		if err := ev.Validate(); err == nil {
			t.Errorf("Validate(%#v) succeeded, want error", ev)
		}
	}
}

func TestReferenceFallsBackToBranch(t *testing.T) {
	t.Parallel()

	ev := Event{Kind: KindRelease, ReleaseAction: "published"}
	if ev.Reference() != "" {
		t.Fatalf("release without tag should have empty reference, got %q", ev.Reference())
	}

	ev = Event{Kind: KindPullRequest, Branch: "feat", TargetBranch: "main"}
	if ev.Reference() != "feat" {
		t.Fatalf("Reference() = %q", ev.Reference())
	}
}

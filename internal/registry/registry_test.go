package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/slipwayci/slipway/internal/config"
	"github.com/slipwayci/slipway/internal/event"
)

type recordedCommand struct {
	stdin string
	name  string
	args  []string
}

func TestSanitizeTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ref  string
		want string
	}{
		{"main", "main"},
		{"v1.2.3", "v1.2.3"},
		{"feature/login", "feature-login"},
		{"release/1.0@rc", "release-1.0-rc"},
		{"--weird", "weird"},
		{"..hidden", "hidden"},
		{"", "latest"},
		{"///", "latest"},
		{strings.Repeat("a", 200), strings.Repeat("a", 128)},
	}
	for _, tt := range tests {
		if got := sanitizeTag(tt.ref); got != tt.want {
			t.Errorf("sanitizeTag(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestTagForUsesEventReference(t *testing.T) {
	t.Parallel()

	push := event.Event{Kind: event.KindPush, Branch: "main"}
	if got := TagFor(push); got != "main" {
		t.Fatalf("TagFor(push main) = %q", got)
	}

	release := event.Event{Kind: event.KindRelease, ReleaseAction: "published", Tag: "v2.0.0"}
	if got := TagFor(release); got != "v2.0.0" {
		t.Fatalf("TagFor(release v2.0.0) = %q", got)
	}
}

func TestImageRef(t *testing.T) {
	t.Parallel()

	c := New(config.RegistryConfig{Repository: "acme/battleship"})
	if got := c.ImageRef("main"); got != "acme/battleship:main" {
		t.Fatalf("ImageRef = %q", got)
	}

	c = New(config.RegistryConfig{Host: "ghcr.io", Repository: "acme/battleship"})
	if got := c.ImageRef("v1.0.0"); got != "ghcr.io/acme/battleship:v1.0.0" {
		t.Fatalf("ImageRef with host = %q", got)
	}
}

func TestPublishMissingCredentialsIsAuthError(t *testing.T) {
	t.Setenv("TEST_PUB_USER", "alice")
	// Password env deliberately unset.

	c := New(config.RegistryConfig{
		Repository:  "acme/battleship",
		UsernameEnv: "TEST_PUB_USER",
		PasswordEnv: "TEST_PUB_PASS_UNSET",
	})
	called := false
	c.execCommand = func(context.Context, string, string, ...string) ([]byte, error) {
		called = true
		return nil, nil
	}

	err := c.Publish(context.Background(), event.Event{Kind: event.KindPush, Branch: "main"}, "Dockerfile", ".")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if called {
		t.Fatal("no subprocess may start without credentials")
	}
}

func TestPublishRunsLoginBuildPush(t *testing.T) {
	t.Setenv("TEST_PUB_USER", "alice")
	t.Setenv("TEST_PUB_PASS", "hunter2")

	c := New(config.RegistryConfig{
		Host:        "ghcr.io",
		Repository:  "acme/battleship",
		UsernameEnv: "TEST_PUB_USER",
		PasswordEnv: "TEST_PUB_PASS",
	})

	var commands []recordedCommand
	c.execCommand = func(_ context.Context, stdin, name string, args ...string) ([]byte, error) {
		commands = append(commands, recordedCommand{stdin: stdin, name: name, args: args})
		return []byte("ok"), nil
	}

	ev := event.Event{Kind: event.KindRelease, ReleaseAction: "published", Tag: "v1.0.0"}
	if err := c.Publish(context.Background(), ev, "Dockerfile", "."); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(commands) != 3 {
		t.Fatalf("got %d commands, want login+build+push", len(commands))
	}

	login := commands[0]
	if login.args[0] != "login" || login.stdin != "hunter2" {
		t.Fatalf("unexpected login command: %#v", login)
	}
	if !contains(login.args, "--password-stdin") || !contains(login.args, "ghcr.io") {
		t.Fatalf("login args missing password-stdin or host: %v", login.args)
	}
	if contains(login.args, "hunter2") {
		t.Fatal("password must never appear in argv")
	}

	build := commands[1]
	if build.args[0] != "build" || !contains(build.args, "ghcr.io/acme/battleship:v1.0.0") {
		t.Fatalf("unexpected build command: %v", build.args)
	}

	push := commands[2]
	if push.args[0] != "push" || push.args[1] != "ghcr.io/acme/battleship:v1.0.0" {
		t.Fatalf("unexpected push command: %v", push.args)
	}
}

func TestPublishLoginFailureIsAuthError(t *testing.T) {
	t.Setenv("TEST_PUB_USER", "alice")
	t.Setenv("TEST_PUB_PASS", "hunter2")

	c := New(config.RegistryConfig{
		Repository:  "acme/battleship",
		UsernameEnv: "TEST_PUB_USER",
		PasswordEnv: "TEST_PUB_PASS",
	})
	c.execCommand = func(_ context.Context, _, _ string, args ...string) ([]byte, error) {
		return []byte("unauthorized: incorrect username or password"), errors.New("exit status 1")
	}

	err := c.Publish(context.Background(), event.Event{Kind: event.KindPush, Branch: "main"}, "Dockerfile", ".")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestPublishPushFailureIsPushRejected(t *testing.T) {
	t.Setenv("TEST_PUB_USER", "alice")
	t.Setenv("TEST_PUB_PASS", "hunter2")

	c := New(config.RegistryConfig{
		Repository:  "acme/battleship",
		UsernameEnv: "TEST_PUB_USER",
		PasswordEnv: "TEST_PUB_PASS",
	})
	c.execCommand = func(_ context.Context, _, _ string, args ...string) ([]byte, error) {
		if args[0] == "push" {
			return []byte("denied: requested access to the resource is denied"), errors.New("exit status 1")
		}
		return []byte("ok"), nil
	}

	err := c.Publish(context.Background(), event.Event{Kind: event.KindPush, Branch: "main"}, "Dockerfile", ".")
	if !errors.Is(err, ErrPushRejected) {
		t.Fatalf("expected ErrPushRejected, got %v", err)
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

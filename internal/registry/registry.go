package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/slipwayci/slipway/internal/config"
	"github.com/slipwayci/slipway/internal/event"
	"github.com/slipwayci/slipway/internal/log"
)

var (
	// ErrAuth indicates missing or rejected registry credentials.
	ErrAuth = errors.New("registry authentication failed")

	// ErrPushRejected indicates the registry refused the push (network
	// failure, permissions, or tag conflict depending on registry policy).
	ErrPushRejected = errors.New("registry rejected push")
)

// Client builds and pushes container images through the docker CLI.
type Client struct {
	cfg    config.RegistryConfig
	logger *slog.Logger

	// execCommand is swapped in tests.
	execCommand func(ctx context.Context, stdin string, name string, args ...string) ([]byte, error)
}

func New(cfg config.RegistryConfig) *Client {
	return &Client{
		cfg:         cfg,
		logger:      log.WithComponent("registry"),
		execCommand: runCommand,
	}
}

// credentials reads the registry credentials from the environment.
// The password is mandatory; its absence is an authentication failure
// before any subprocess is started.
func (c *Client) credentials() (username, password string, err error) {
	username = os.Getenv(c.cfg.UsernameEnv)
	password = os.Getenv(c.cfg.PasswordEnv)
	if username == "" || password == "" {
		return "", "", fmt.Errorf("%w: %s or %s not set", ErrAuth, c.cfg.UsernameEnv, c.cfg.PasswordEnv)
	}
	return username, password, nil
}

// ImageRef returns the fully qualified image reference for a tag.
func (c *Client) ImageRef(tag string) string {
	ref := c.cfg.Repository + ":" + tag
	if c.cfg.Host != "" {
		ref = c.cfg.Host + "/" + ref
	}
	return ref
}

// TagFor derives the image tag from the triggering event's reference:
// the release tag for releases, the branch name for pushes.
func TagFor(ev event.Event) string {
	return sanitizeTag(ev.Reference())
}

// sanitizeTag maps an arbitrary git reference onto the docker tag
// charset ([A-Za-z0-9_.-], must not start with '.' or '-').
func sanitizeTag(ref string) string {
	if ref == "" {
		return "latest"
	}
	var b strings.Builder
	for _, r := range ref {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.TrimLeft(b.String(), ".-")
	if out == "" {
		return "latest"
	}
	if len(out) > 128 {
		out = out[:128]
	}
	return out
}

// Publish builds an image from buildContext/dockerfile and pushes it to
// the configured repository, tagged from the triggering event.
func (c *Client) Publish(ctx context.Context, ev event.Event, dockerfile, buildContext string) error {
	if c.cfg.Repository == "" {
		return fmt.Errorf("registry repository is not configured")
	}

	username, password, err := c.credentials()
	if err != nil {
		return err
	}

	tag := TagFor(ev)
	ref := c.ImageRef(tag)
	c.logger.Info("publishing image", "ref", ref, "dockerfile", dockerfile, "context", buildContext)

	loginArgs := []string{"login", "--username", username, "--password-stdin"}
	if c.cfg.Host != "" {
		loginArgs = append(loginArgs, c.cfg.Host)
	}
	if out, err := c.execCommand(ctx, password, "docker", loginArgs...); err != nil {
		c.logger.Warn("docker login failed", "error", err)
		return fmt.Errorf("%w: login: %s", ErrAuth, firstLine(out))
	}

	if out, err := c.execCommand(ctx, "", "docker", "build", "--file", dockerfile, "--tag", ref, buildContext); err != nil {
		return fmt.Errorf("docker build failed: %v: %s", err, firstLine(out))
	}

	if out, err := c.execCommand(ctx, "", "docker", "push", ref); err != nil {
		c.logger.Warn("docker push failed", "ref", ref, "error", err)
		return fmt.Errorf("%w: %s", ErrPushRejected, firstLine(out))
	}

	c.logger.Info("image published", "ref", ref)
	return nil
}

func runCommand(ctx context.Context, stdin string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

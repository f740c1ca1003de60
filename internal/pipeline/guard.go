package pipeline

import (
	"fmt"
	"strings"

	"github.com/slipwayci/slipway/internal/event"
)

// Guard is a compiled step condition: a single equality (or inequality)
// test between a context field and a literal, e.g.
//
//	matrix.toolchain == 'nightly'
//	event.branch != 'main'
type Guard struct {
	Field string // "matrix.toolchain", "event.branch", ...
	Op    string // "==" or "!="
	Value string
	Raw   string
}

// ParseGuard parses a guard expression.
func ParseGuard(expr string) (*Guard, error) {
	raw := strings.TrimSpace(expr)

	op := "=="
	idx := strings.Index(raw, "==")
	if neq := strings.Index(raw, "!="); neq >= 0 && (idx < 0 || neq < idx) {
		op = "!="
		idx = neq
	}
	if idx < 0 {
		return nil, fmt.Errorf("invalid guard %q: expected <field> == '<value>' or <field> != '<value>'", raw)
	}

	field := strings.TrimSpace(raw[:idx])
	lit := strings.TrimSpace(raw[idx+2:])
	if field == "" {
		return nil, fmt.Errorf("invalid guard %q: missing field", raw)
	}

	value, ok := unquote(lit)
	if !ok {
		return nil, fmt.Errorf("invalid guard %q: value must be a quoted literal", raw)
	}

	return &Guard{Field: field, Op: op, Value: value, Raw: raw}, nil
}

func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// Eval evaluates the guard against a run's matrix axis assignment and
// trigger event. It is evaluated once, before the step executes.
func (g *Guard) Eval(axis map[string]string, ev event.Event) bool {
	scope, field, _ := strings.Cut(g.Field, ".")

	var actual string
	switch scope {
	case "matrix":
		actual = axis[field]
	case "event":
		switch field {
		case "kind":
			actual = string(ev.Kind)
		case "branch":
			actual = ev.Branch
		case "target_branch":
			actual = ev.TargetBranch
		case "release_action":
			actual = ev.ReleaseAction
		case "tag":
			actual = ev.Tag
		case "reference":
			actual = ev.Reference()
		}
	}

	if g.Op == "!=" {
		return actual != g.Value
	}
	return actual == g.Value
}

package cmdutil

import (
	"path"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Command is a single shell command line destined for a remote bash session.
//
// Arguments passed to New are quoted individually, so values that come from
// configuration (passwords, hostnames, refs) cannot break out of their
// argument. Script is reserved for fixed fragments that need shell syntax.
// Command values are immutable; every modifier returns a copy.
type Command struct {
	frags   []fragment
	dir     string
	sources []string
	env     map[string]string
	secrets []string
}

// fragment is one simple command of a line. Arguments are kept unquoted so
// secrets can be masked before quoting.
type fragment struct {
	op      string // operator joining this fragment to the previous one
	args    []string
	script  string
	literal bool
}

// New builds a command from individually quoted arguments.
//
// Example:
//
//	New("git", "checkout", "v1.2") -> git checkout v1.2
func New(args ...string) Command {
	return Command{frags: []fragment{{args: append([]string(nil), args...)}}}
}

// Script builds a command from a literal shell fragment.
// Never pass configuration values through Script.
func Script(line string) Command {
	return Command{frags: []fragment{{script: line, literal: true}}}
}

// In runs the command from dir. Nested calls join relative paths the same
// way stacked "cd" contexts do.
func (c Command) In(dir string) Command {
	out := c.clone()
	if out.dir == "" || path.IsAbs(dir) || strings.HasPrefix(dir, "~") {
		out.dir = dir
	} else {
		out.dir = path.Join(out.dir, dir)
	}
	return out
}

// Source activates a script (typically a virtualenv) before the command.
func (c Command) Source(script string) Command {
	out := c.clone()
	out.sources = append(out.sources, script)
	return out
}

// Env exports variables before the command. Later calls override earlier keys.
func (c Command) Env(vars map[string]string) Command {
	out := c.clone()
	if out.env == nil {
		out.env = make(map[string]string, len(vars))
	}
	for k, v := range vars {
		out.env[k] = v
	}
	return out
}

// Secret marks values that must not appear in logs.
func (c Command) Secret(values ...string) Command {
	out := c.clone()
	for _, v := range values {
		if v != "" {
			out.secrets = append(out.secrets, v)
		}
	}
	return out
}

// Or appends "|| other". Only the command line of other is used.
func (c Command) Or(other Command) Command {
	return c.join("||", other)
}

// Pipe appends "| other". Only the command line of other is used.
func (c Command) Pipe(other Command) Command {
	return c.join("|", other)
}

// Line returns the bare command without directory, sources or environment.
func (c Command) Line() string {
	return c.render(keep)
}

// Dir returns the working directory the command runs from.
func (c Command) Dir() string {
	return c.dir
}

// Secrets returns the values registered with Secret.
func (c Command) Secrets() []string {
	return append([]string(nil), c.secrets...)
}

// String renders the full command line, e.g.
// cd codalab-cli && source ~/venv/bin/activate && export A=b && git pull
func (c Command) String() string {
	return c.renderFull(keep)
}

// Redacted renders the command with every secret masked. Secrets are
// replaced in the raw arguments before quoting, so a secret embedded in a
// larger argument (--password=..., a URL) is masked too.
func (c Command) Redacted() string {
	secrets := append([]string(nil), c.secrets...)
	// Longest first so a secret that contains another is masked whole.
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })

	mask := func(s string) string {
		for _, secret := range secrets {
			if secret != "" {
				s = strings.ReplaceAll(s, secret, redactedPlaceholder)
			}
		}
		return s
	}
	out := strings.ReplaceAll(c.renderFull(mask), redactedPlaceholder, redactedMarker)
	return string(SanitizeOutput([]byte(out), secrets))
}

func keep(s string) string { return s }

func (c Command) renderFull(mask func(string) string) string {
	var parts []string
	if c.dir != "" {
		parts = append(parts, "cd "+quotePath(mask(c.dir)))
	}
	for _, s := range c.sources {
		parts = append(parts, "source "+quotePath(mask(s)))
	}
	if len(c.env) > 0 {
		keys := make([]string, 0, len(c.env))
		for k := range c.env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		exports := make([]string, 0, len(keys))
		for _, k := range keys {
			exports = append(exports, k+"="+shellquote.Join(mask(c.env[k])))
		}
		parts = append(parts, "export "+strings.Join(exports, " "))
	}
	parts = append(parts, c.render(mask))
	return strings.Join(parts, " && ")
}

func (c Command) render(mask func(string) string) string {
	var b strings.Builder
	for i, f := range c.frags {
		if i > 0 {
			b.WriteString(" " + f.op + " ")
		}
		if f.literal {
			b.WriteString(mask(f.script))
			continue
		}
		args := make([]string, len(f.args))
		for j, a := range f.args {
			args[j] = mask(a)
		}
		b.WriteString(shellquote.Join(args...))
	}
	return b.String()
}

// join appends the fragments of other after op. Only the command line of
// other is used, plus its secrets.
func (c Command) join(op string, other Command) Command {
	out := c.clone()
	for i, f := range other.frags {
		if i == 0 {
			f.op = op
		}
		out.frags = append(out.frags, f)
	}
	out.secrets = append(out.secrets, other.secrets...)
	return out
}

func (c Command) clone() Command {
	out := c
	out.frags = append([]fragment(nil), c.frags...)
	out.sources = append([]string(nil), c.sources...)
	out.secrets = append([]string(nil), c.secrets...)
	if c.env != nil {
		out.env = make(map[string]string, len(c.env))
		for k, v := range c.env {
			out.env[k] = v
		}
	}
	return out
}

// quotePath quotes a path but leaves a leading "~/" unquoted so the remote
// shell still expands it to the login home.
func quotePath(p string) string {
	if p == "~" {
		return p
	}
	if strings.HasPrefix(p, "~/") {
		return "~/" + shellquote.Join(p[2:])
	}
	return shellquote.Join(p)
}

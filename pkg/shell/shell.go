// Package shell provides shortcuts for frequently used shell commands on top
// of a backend.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/yodler/yodler/pkg/backend"
)

// ErrNotATTY is returned when a command fails because it needs a terminal.
var ErrNotATTY = errors.New("stdin: is not a tty")

// ErrACLMissing is returned by SetUser when the agent socket cannot be
// shared with the target user.
var ErrACLMissing = errors.New("acl must be installed to share ssh forwarding, run `sudo apt-get install acl`")

// PathError reports a path that failed an access check.
type PathError struct {
	Check string
	Path  string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path not %s: %s", e.Check, e.Path)
}

// Options tune file operations.
type Options struct {
	Recursive bool
	Sudo      bool
}

// Shell runs commands through a backend, optionally in a working directory
// and as another user.
type Shell struct {
	backend backend.Backend
	user    string
	cwd     string
}

// New creates a shell over b.
func New(b backend.Backend) *Shell {
	return &Shell{backend: b}
}

// Backend returns the underlying backend.
func (s *Shell) Backend() backend.Backend {
	return s.backend
}

// SetCwd sets the directory commands run in. An empty path clears it.
func (s *Shell) SetCwd(path string) {
	s.cwd = path
}

// Cwd returns the working directory.
func (s *Shell) Cwd() string {
	return s.cwd
}

// User returns the user commands run as, or "" for the login user.
func (s *Shell) User() string {
	return s.user
}

// SetUser makes later commands run as user through sudo. When an ssh agent
// is forwarded, its socket is shared with user through ACLs. An empty user
// switches back to the login user.
func (s *Shell) SetUser(ctx context.Context, user string) error {
	s.user = ""
	if user == "" {
		return nil
	}

	sock, err := s.Exec(ctx, `echo "$SSH_AUTH_SOCK"`)
	if err != nil {
		return err
	}
	if sock != "" {
		setfacl, err := s.Which(ctx, "setfacl")
		if err != nil {
			return err
		}
		if setfacl == "" {
			return ErrACLMissing
		}
		if _, err := s.Exec(ctx, "setfacl -m "+user+`:x $(dirname "$SSH_AUTH_SOCK")`); err != nil {
			return err
		}
		if _, err := s.Exec(ctx, "setfacl -m "+user+`:rwx "$SSH_AUTH_SOCK"`); err != nil {
			return err
		}
	}

	s.user = user
	return nil
}

var sudoEscaper = strings.NewReplacer(`"`, `\"`, `\`, `\\`)

// Exec runs command and returns its trimmed output.
func (s *Shell) Exec(ctx context.Context, command string) (string, error) {
	if s.user != "" {
		command = fmt.Sprintf(`sudo -EHu %s bash -c "%s"`, s.user, sudoEscaper.Replace(command))
	}
	if s.cwd != "" {
		command = "cd " + EscapePath(s.cwd) + "; " + command
	}

	out, err := s.backend.Exec(ctx, command)
	if err != nil {
		return "", err
	}
	if strings.Contains(out, ErrNotATTY.Error()) {
		return "", ErrNotATTY
	}
	return strings.TrimSpace(out), nil
}

// EscapeString quotes str as a single shell argument.
func EscapeString(str string) string {
	return "'" + strings.ReplaceAll(str, "'", `'\''`) + "'"
}

// EscapePath escapes the spaces of path.
func EscapePath(path string) string {
	return strings.ReplaceAll(path, " ", `\ `)
}

func prefix(opts Options) (sudo, recursive string) {
	if opts.Sudo {
		sudo = "sudo "
	}
	if opts.Recursive {
		recursive = "-R "
	}
	return sudo, recursive
}

func (s *Shell) run(ctx context.Context, command string) error {
	_, err := s.Exec(ctx, command)
	return err
}

// Ln creates or replaces the symbolic link link pointing to origin.
func (s *Shell) Ln(ctx context.Context, origin, link string, relative bool) error {
	flag := ""
	if relative {
		flag = "--relative "
	}
	return s.run(ctx, fmt.Sprintf("ln -nfs %s%s %s", flag, EscapePath(origin), EscapePath(link)))
}

// Chmod changes the mode of path.
func (s *Shell) Chmod(ctx context.Context, path string, mode os.FileMode, opts Options) error {
	sudo, recursive := prefix(opts)
	return s.run(ctx, fmt.Sprintf("%schmod %s%04o %s", sudo, recursive, mode.Perm(), EscapePath(path)))
}

// Chown changes the owner of path. group may be empty.
func (s *Shell) Chown(ctx context.Context, path, user, group string, opts Options) error {
	if group != "" {
		user += ":" + group
	}
	sudo, recursive := prefix(opts)
	return s.run(ctx, fmt.Sprintf("%schown %s%s %s", sudo, recursive, user, EscapePath(path)))
}

// Rm removes path recursively.
func (s *Shell) Rm(ctx context.Context, path string, sudo bool) error {
	p, _ := prefix(Options{Sudo: sudo})
	return s.run(ctx, p+"rm -rf "+EscapePath(path))
}

// Mkdir creates path, with parents when recursive.
func (s *Shell) Mkdir(ctx context.Context, path string, recursive bool) error {
	flag := ""
	if recursive {
		flag = "-p "
	}
	return s.run(ctx, "mkdir "+flag+EscapePath(path))
}

// Touch creates path or updates its timestamps.
func (s *Shell) Touch(ctx context.Context, path string) error {
	return s.run(ctx, "touch "+EscapePath(path))
}

// Readlink returns the target of the link at path.
func (s *Shell) Readlink(ctx context.Context, path string) (string, error) {
	return s.Exec(ctx, "readlink "+EscapePath(path))
}

// Realpath returns the canonical form of path.
func (s *Shell) Realpath(ctx context.Context, path string) (string, error) {
	return s.Exec(ctx, "realpath "+EscapePath(path))
}

// Dirname returns the parent directory of path.
func (s *Shell) Dirname(ctx context.Context, path string) (string, error) {
	return s.Exec(ctx, "dirname "+EscapePath(path))
}

// Ls lists the entries of path, including dot files.
func (s *Shell) Ls(ctx context.Context, path string) ([]string, error) {
	out, err := s.Exec(ctx, "ls -A "+EscapePath(path))
	if err != nil || out == "" {
		return nil, err
	}
	return strings.Split(out, "\n"), nil
}

// Which returns the path of command, or "" if it is not installed.
func (s *Shell) Which(ctx context.Context, command string) (string, error) {
	return s.Exec(ctx, "which "+command+" || true")
}

func (s *Shell) test(ctx context.Context, flag, path string) (bool, error) {
	out, err := s.Exec(ctx, fmt.Sprintf("if [ %s %s ]; then echo 'true'; fi", flag, EscapePath(path)))
	if err != nil {
		return false, err
	}
	return out == "true", nil
}

// Exists reports whether path exists.
func (s *Shell) Exists(ctx context.Context, path string) (bool, error) {
	return s.test(ctx, "-e", path)
}

// IsFile reports whether path is a regular file.
func (s *Shell) IsFile(ctx context.Context, path string) (bool, error) {
	return s.test(ctx, "-f", path)
}

// IsDir reports whether path is a directory.
func (s *Shell) IsDir(ctx context.Context, path string) (bool, error) {
	return s.test(ctx, "-d", path)
}

// IsLink reports whether path is a symbolic link.
func (s *Shell) IsLink(ctx context.Context, path string) (bool, error) {
	return s.test(ctx, "-h", path)
}

// IsWritable reports whether path is writable.
func (s *Shell) IsWritable(ctx context.Context, path string) (bool, error) {
	return s.test(ctx, "-w", path)
}

// IsReadable reports whether path is readable.
func (s *Shell) IsReadable(ctx context.Context, path string) (bool, error) {
	return s.test(ctx, "-r", path)
}

// Copy copies source to target recursively.
func (s *Shell) Copy(ctx context.Context, source, target string) error {
	return s.run(ctx, fmt.Sprintf("cp -r %s %s", EscapePath(source), EscapePath(target)))
}

// CopyPaths copies every source to each of its targets.
func (s *Shell) CopyPaths(ctx context.Context, paths map[string][]string) error {
	for _, source := range sortedKeys(paths) {
		for _, target := range paths[source] {
			if err := s.Copy(ctx, source, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// LinkPaths links every source to each of its targets with relative links.
func (s *Shell) LinkPaths(ctx context.Context, paths map[string][]string) error {
	for _, source := range sortedKeys(paths) {
		for _, target := range paths[source] {
			if err := s.Ln(ctx, source, target, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckWritable fails with a *PathError for the first path that is not
// writable.
func (s *Shell) CheckWritable(ctx context.Context, paths ...string) error {
	return s.check(ctx, "writable", s.IsWritable, paths)
}

// CheckReadable fails with a *PathError for the first path that is not
// readable.
func (s *Shell) CheckReadable(ctx context.Context, paths ...string) error {
	return s.check(ctx, "readable", s.IsReadable, paths)
}

func (s *Shell) check(ctx context.Context, name string, fn func(context.Context, string) (bool, error), paths []string) error {
	for _, p := range paths {
		ok, err := fn(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			return &PathError{Check: name, Path: p}
		}
	}
	return nil
}

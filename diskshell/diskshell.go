// Package diskshell wraps the host partition tools (diskutil, sgdisk)
// and resolves the filesystem-specific sidecar binaries (mkfs.*,
// resize2fs, ntfsresize, e2fsck, ntfsfix, tune2fs, ntfslabel,
// swaplabel, lsof, pmset, kill, swapoff) named in spec §6.
//
// Modeled on the teacher's disk.Manager: a thin struct wrapping a
// sysexec.Executor, one method per external call, errors built from
// captured stderr.
package diskshell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oliverquick/oxidisk/sysexec"
)

// ErrSidecarNotFound is returned by ResolveSidecar when none of the
// candidate paths exist.
var ErrSidecarNotFound = errors.New("sidecar not found")

// Shell runs diskutil, sgdisk and resolved sidecar binaries.
type Shell struct {
	exec sysexec.Executor

	// Overridable for tests; default to the real OS calls.
	executablePath func() (string, error)
	pathExists     func(string) bool
}

// Option configures a Shell at construction time.
type Option func(*Shell)

// WithPathExists overrides the sidecar-candidate existence check, for
// tests that need to simulate a fixed set of installed sidecars.
func WithPathExists(f func(string) bool) Option {
	return func(s *Shell) { s.pathExists = f }
}

// WithExecutablePath overrides the current-executable lookup used as
// the first sidecar search candidate.
func WithExecutablePath(f func() (string, error)) Option {
	return func(s *Shell) { s.executablePath = f }
}

// New creates a Shell backed by the given executor.
func New(exec sysexec.Executor, opts ...Option) *Shell {
	s := &Shell{
		exec:           exec,
		executablePath: os.Executable,
		pathExists: func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Diskutil runs `diskutil <args...>` and returns combined stdout+stderr
// on success, or an error carrying the stderr text on failure.
func (s *Shell) Diskutil(ctx context.Context, args ...string) (string, error) {
	return s.runCapture(ctx, "diskutil", args...)
}

// DiskutilQuiet runs diskutil discarding output, for calls whose only
// interesting result is success/failure (e.g. unmount, eraseVolume).
func (s *Shell) DiskutilQuiet(ctx context.Context, args ...string) error {
	_, err := s.runCapture(ctx, "diskutil", args...)
	return err
}

// Sgdisk runs a resolved `sgdisk` sidecar with args, returning combined
// output.
func (s *Shell) Sgdisk(ctx context.Context, args ...string) (string, error) {
	path, err := s.ResolveSidecar("sgdisk")
	if err != nil {
		return "", err
	}
	return s.runCapture(ctx, path, args...)
}

// RunSidecar resolves binary by name and runs it with args, returning
// combined stdout+stderr.
func (s *Shell) RunSidecar(ctx context.Context, binary string, args ...string) (string, error) {
	path, err := s.ResolveSidecar(binary)
	if err != nil {
		return "", err
	}
	return s.runCapture(ctx, path, args...)
}

// RunBare runs binary by its bare name, relying on the host's PATH
// instead of sidecar resolution — for tools expected to already be on
// the system (e.g. swapoff) where a bundled sidecar is only preferred,
// not required.
func (s *Shell) RunBare(ctx context.Context, binary string, args ...string) (string, error) {
	return s.runCapture(ctx, binary, args...)
}

func (s *Shell) runCapture(ctx context.Context, name string, args ...string) (string, error) {
	out, err := s.exec.CombinedOutput(ctx, name, args...)
	if err != nil {
		return "", fmt.Errorf("%s error: %s", name, trimOutput(out, err))
	}
	return trimOutput(out, nil), nil
}

func trimOutput(out []byte, err error) string {
	s := string(out)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	if s == "" && err != nil {
		return err.Error()
	}
	return s
}

// ResolveSidecar searches, in order: (1) the directory of the current
// executable, (2) <exe-dir>/../Resources/sidecars/<name>, (3)
// /usr/local/bin/<name>, (4) /opt/homebrew/bin/<name>. The first
// existing path wins.
func (s *Shell) ResolveSidecar(name string) (string, error) {
	var candidates []string
	if exe, err := s.executablePath(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates, filepath.Join(dir, name))
		candidates = append(candidates, filepath.Join(dir, "..", "Resources", "sidecars", name))
	}
	candidates = append(candidates, filepath.Join("/usr/local/bin", name))
	candidates = append(candidates, filepath.Join("/opt/homebrew/bin", name))

	for _, c := range candidates {
		if s.pathExists(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSidecarNotFound, name)
}

// HasSidecar reports whether a sidecar can be resolved, without
// returning the path or an error — used by preflight to turn a missing
// binary into a blocker rather than bubbling a "not found" error.
func (s *Shell) HasSidecar(name string) bool {
	_, err := s.ResolveSidecar(name)
	return err == nil
}

// Package quiesce brings a target device to a state safe for
// mutation: swap-off when applicable, cascading unmount of the volume
// then its parent disk, and, on an explicit force-unmount request,
// holder-process discovery and termination before a final unmount
// retry.
//
// Grounded on the quiesce steps implicit in wipe_linux_device/
// format_linux_partition/move_partition in the original helper, which
// always unmount before touching a device; the holder-kill escalation
// in §4.4 has no original_source equivalent and is built fresh in the
// diskshell idiom, using golang.org/x/sys/unix for process signaling
// the way a CLI tool in this corpus would reach for it over os.Process.
package quiesce

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oliverquick/oxidisk/diskshell"
	"github.com/oliverquick/oxidisk/metadata"
)

// Holder is one process with open files beneath a mount point.
type Holder struct {
	PID     int
	Command string
}

// Quiescer drives the unmount cascade.
type Quiescer struct {
	shell *diskshell.Shell
	meta  *metadata.Reader

	// killWait is overridable in tests to avoid a real 400ms sleep.
	killWait time.Duration
}

// New creates a Quiescer.
func New(shell *diskshell.Shell, meta *metadata.Reader) *Quiescer {
	return &Quiescer{shell: shell, meta: meta, killWait: 400 * time.Millisecond}
}

// Quiesce unmounts a partition's volume, then force-unmounts its
// parent disk. The per-volume unmount is best-effort; the parent-disk
// unmount is hard-required. If the target is a swap partition,
// swapoff is attempted first and must succeed.
func (q *Quiescer) Quiesce(ctx context.Context, partitionDevice string) error {
	tag, err := q.meta.DetectTag(ctx, partitionDevice)
	if err != nil {
		slog.Debug("quiesce: filesystem tag detection failed, proceeding", "device", partitionDevice, "error", err)
	}
	if tag == metadata.TagSwap {
		if err := q.swapOff(ctx); err != nil {
			return fmt.Errorf("swapoff: %w", err)
		}
	}

	_ = q.shell.DiskutilQuiet(ctx, "unmount", "force", partitionDevice)

	parent, ok, parentErr := q.parentDisk(ctx, partitionDevice)
	if parentErr == nil && ok {
		if err := q.shell.DiskutilQuiet(ctx, "unmount", "force", parent); err != nil {
			return fmt.Errorf("unmount parent disk: %w", err)
		}
	}
	return nil
}

func (q *Quiescer) parentDisk(ctx context.Context, partitionDevice string) (string, bool, error) {
	p, err := q.meta.PartitionInfo(ctx, partitionDevice)
	if err != nil {
		return "", false, err
	}
	return p.Disk, true, nil
}

func (q *Quiescer) swapOff(ctx context.Context) error {
	if q.shell.HasSidecar("swapoff") {
		_, err := q.shell.RunSidecar(ctx, "swapoff", "-a")
		return err
	}
	_, err := q.shell.RunBare(ctx, "swapoff", "-a")
	return err
}

// ForceUnmount performs the full escalation: discover holders of the
// mount point, send SIGTERM, wait, send SIGKILL, then retry the
// unmount. If the volume is not mounted, there is nothing to hold and
// this degrades to a plain unmount.
func (q *Quiescer) ForceUnmount(ctx context.Context, partitionDevice string) ([]Holder, error) {
	p, err := q.meta.PartitionInfo(ctx, partitionDevice)
	if err != nil {
		return nil, err
	}
	if p.MountPoint == "" {
		return nil, q.shell.DiskutilQuiet(ctx, "unmount", "force", partitionDevice)
	}

	holders, err := q.findHolders(ctx, p.MountPoint)
	if err != nil {
		slog.Debug("force unmount: holder discovery failed", "mountPoint", p.MountPoint, "error", err)
	}

	for _, h := range holders {
		_ = unix.Kill(h.PID, unix.SIGTERM)
	}
	if len(holders) > 0 {
		time.Sleep(q.killWait)
	}
	for _, h := range holders {
		_ = unix.Kill(h.PID, unix.SIGKILL)
	}

	if err := q.shell.DiskutilQuiet(ctx, "unmount", "force", partitionDevice); err != nil {
		return holders, fmt.Errorf("unmount after holder termination: %w", err)
	}
	return holders, nil
}

// FindHolders is the non-destructive counterpart to ForceUnmount: it
// reports who holds files under mountPoint without signalling anyone,
// for preflight's busy-volume check.
func (q *Quiescer) FindHolders(ctx context.Context, mountPoint string) ([]Holder, error) {
	return q.findHolders(ctx, mountPoint)
}

// findHolders runs `lsof +D <mountPoint>` and parses {pid, command}
// pairs from its output.
func (q *Quiescer) findHolders(ctx context.Context, mountPoint string) ([]Holder, error) {
	if !q.shell.HasSidecar("lsof") {
		return nil, nil
	}
	out, err := q.shell.RunSidecar(ctx, "lsof", "+D", mountPoint)
	if err != nil {
		// lsof exits non-zero when it finds nothing to report; treat
		// empty output paired with an error as "no holders", not failure.
		if out == "" {
			return nil, nil
		}
	}
	return parseLsofOutput(out), nil
}

// parseLsofOutput reads lsof's default columnar format:
// COMMAND PID USER FD TYPE DEVICE SIZE/OFF NODE NAME
func parseLsofOutput(out string) []Holder {
	var holders []Holder
	scanner := bufio.NewScanner(strings.NewReader(out))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if strings.HasPrefix(line, "COMMAND") {
				continue
			}
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		holders = append(holders, Holder{PID: pid, Command: fields[0]})
	}
	return dedupeHolders(holders)
}

func dedupeHolders(in []Holder) []Holder {
	seen := make(map[int]bool, len(in))
	var out []Holder
	for _, h := range in {
		if seen[h.PID] {
			continue
		}
		seen[h.PID] = true
		out = append(out, h)
	}
	return out
}

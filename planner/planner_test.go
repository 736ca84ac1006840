package planner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oliverquick/oxidisk/diskshell"
	"github.com/oliverquick/oxidisk/eventstream"
	"github.com/oliverquick/oxidisk/journal"
	"github.com/oliverquick/oxidisk/metadata"
	"github.com/oliverquick/oxidisk/quiesce"
	"github.com/oliverquick/oxidisk/sysexec"
)

const genericDiskInfoPlist = `<?xml version="1.0"?><plist><dict>
	<key>TotalSize</key><integer>21474836480</integer>
</dict></plist>`

// handlerExecutor dispatches CombinedOutput calls to a caller-supplied
// function, recording every call for later assertions. Used instead of
// sysexec.MockExecutor because the planner issues several distinct
// diskutil invocations per operation that each need different canned
// output, keyed by more than just the command name.
type handlerExecutor struct {
	sysexec.Executor
	t       *testing.T
	handler func(name string, args []string) ([]byte, error)
	calls   []string
}

func (e *handlerExecutor) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	e.calls = append(e.calls, strings.Join(append([]string{name}, args...), " "))
	if e.handler == nil {
		return []byte(""), nil
	}
	return e.handler(name, args)
}

func newTestPlanner(t *testing.T, exec *handlerExecutor, journalPath string) (*Planner, *strings.Builder) {
	t.Helper()
	shell := diskshell.New(exec, diskshell.WithPathExists(func(string) bool { return true }))
	meta := metadata.New(shell)
	quiescer := quiesce.New(shell, meta)
	j := journal.New(journalPath)
	var out strings.Builder
	stream := eventstream.New(&out)
	return New(shell, meta, quiescer, j, stream), &out
}

func subcommand(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func isBinary(name, binary string) bool {
	return strings.Contains(name, binary)
}

// TestWipeDevice_LinuxRoute exercises S1: wiping an external disk to
// ext4 takes the throwaway-partition route, runs mkfs.ext4, and
// rewrites the GPT type code to 8300.
func TestWipeDevice_LinuxRoute(t *testing.T) {
	var capturedLabel string
	exec := &handlerExecutor{t: t, handler: func(name string, args []string) ([]byte, error) {
		switch {
		case name == "diskutil" && subcommand(args) == "info":
			return []byte(genericDiskInfoPlist), nil
		case name == "diskutil" && subcommand(args) == "eraseDisk":
			capturedLabel = args[2] // diskutil eraseDisk MS-DOS <label> GPT /dev/disk4
			return []byte(""), nil
		case name == "diskutil" && subcommand(args) == "list":
			return []byte(`<?xml version="1.0"?><plist><dict>
				<key>AllDisksAndPartitions</key><array><dict>
					<key>Partitions</key><array><dict>
						<key>VolumeName</key><string>` + capturedLabel + `</string>
						<key>DeviceIdentifier</key><string>disk4s1</string>
					</dict></array>
				</dict></array>
			</dict></plist>`), nil
		case name == "diskutil" && subcommand(args) == "unmount":
			return []byte(""), nil
		case isBinary(name, "mkfs.ext4"):
			return []byte("mke2fs 1.46.5\nCreating filesystem"), nil
		case isBinary(name, "sgdisk"):
			return []byte(""), nil
		default:
			return []byte(""), nil
		}
	}}

	p, _ := newTestPlanner(t, exec, filepath.Join(t.TempDir(), "journal.json"))
	result, err := p.Dispatch(context.Background(), "wipe_device", Payload{
		"deviceIdentifier": "disk4", "tableType": "GPT", "formatType": "ext4", "label": "DATA",
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	details, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result is not a map: %#v", result)
	}
	if details["format"] != "ext4" || details["scheme"] != "GPT" {
		t.Errorf("details = %+v, want format=ext4 scheme=GPT", details)
	}
	if details["warning"] != "" {
		t.Errorf("warning = %q, want empty (sgdisk available)", details["warning"])
	}

	var sawMkfs, sawTypecode bool
	for _, c := range exec.calls {
		if strings.Contains(c, "mkfs.ext4") && strings.Contains(c, "-F") && strings.Contains(c, "-L DATA") {
			sawMkfs = true
		}
		if strings.Contains(c, "sgdisk") && strings.Contains(c, "--typecode") && strings.Contains(c, "8300") {
			sawTypecode = true
		}
	}
	if !sawMkfs {
		t.Errorf("expected a mkfs.ext4 -F -L DATA call, calls = %v", exec.calls)
	}
	if !sawTypecode {
		t.Errorf("expected a sgdisk --typecode ...8300 call, calls = %v", exec.calls)
	}
}

// TestMovePartition_OverlapRejected exercises S3: a move whose new
// range overlaps the partition's current range is rejected before any
// journal entry or block I/O occurs.
func TestMovePartition_OverlapRejected(t *testing.T) {
	const diskOffset = 10 * 1024 * 1024 * 1024  // 10 GiB
	const partSize = 4 * 1024 * 1024 * 1024     // 4 GiB
	const requestedStart = 11 * 1024 * 1024 * 1024

	exec := &handlerExecutor{t: t, handler: func(name string, args []string) ([]byte, error) {
		switch {
		case name == "diskutil" && subcommand(args) == "info" && len(args) > 2 && strings.Contains(args[2], "s1"):
			return []byte(`<?xml version="1.0"?><plist><dict>
				<key>DeviceIdentifier</key><string>disk5s1</string>
				<key>ParentWholeDisk</key><string>disk5</string>
				<key>PartitionOffset</key><integer>` + itoa(diskOffset) + `</integer>
				<key>PartitionSize</key><integer>` + itoa(partSize) + `</integer>
				<key>DeviceBlockSize</key><integer>512</integer>
			</dict></plist>`), nil
		case name == "diskutil" && subcommand(args) == "info":
			return []byte(genericDiskInfoPlist), nil
		case name == "diskutil" && subcommand(args) == "list":
			return []byte(`<?xml version="1.0"?><plist><dict><key>Partitions</key><array><dict>
				<key>DeviceIdentifier</key><string>disk5s1</string>
			</dict></array></dict></plist>`), nil
		case isBinary(name, "sgdisk"):
			return []byte(""), nil
		default:
			return []byte(""), nil
		}
	}}

	journalPath := filepath.Join(t.TempDir(), "journal.json")
	p, _ := newTestPlanner(t, exec, journalPath)
	_, err := p.Dispatch(context.Background(), "move_partition", Payload{
		"partitionIdentifier": "disk5s1", "newStart": itoa(requestedStart),
	})
	if err == nil {
		t.Fatal("Dispatch() expected overlap error, got nil")
	}
	if !strings.Contains(err.Error(), "overlap") {
		t.Errorf("error = %q, want it to mention overlap", err.Error())
	}
	if !errors.Is(err, ErrSafetyGate) {
		t.Errorf("error = %v, want errors.Is(err, ErrSafetyGate)", err)
	}
	if _, statErr := os.Stat(journalPath); statErr == nil {
		t.Errorf("journal file should not have been created")
	}
}

// TestFlashImage_SourceMissing confirms flash_image rejects a missing
// source image before quiescing or touching the target device — the
// checksum-mismatch path is exercised directly against
// blockmover.VerifyHash in blockmover_test.go, since flashImage writes
// through real device paths that a unit test cannot substitute.
func TestFlashImage_SourceMissing(t *testing.T) {
	exec := &handlerExecutor{t: t, handler: func(name string, args []string) ([]byte, error) {
		return []byte(""), nil
	}}
	p, _ := newTestPlanner(t, exec, filepath.Join(t.TempDir(), "journal.json"))

	_, err := p.Dispatch(context.Background(), "flash_image", Payload{
		"sourcePath": filepath.Join(t.TempDir(), "does-not-exist.img"), "targetDevice": "disk6",
	})
	if err == nil {
		t.Fatal("Dispatch() expected an error for a missing source image, got nil")
	}
	if !errors.Is(err, ErrInput) {
		t.Errorf("error = %v, want errors.Is(err, ErrInput)", err)
	}
}

// TestFlashImage_SourceExceedsDiskSize exercises the pre-write capacity
// guard: a source image larger than the target disk's reported size is
// rejected before the disk is quiesced or written to.
func TestFlashImage_SourceExceedsDiskSize(t *testing.T) {
	const diskSize = 1024 * 1024 // 1 MiB

	exec := &handlerExecutor{t: t, handler: func(name string, args []string) ([]byte, error) {
		switch {
		case name == "diskutil" && subcommand(args) == "info":
			return []byte(`<?xml version="1.0"?><plist><dict>
				<key>TotalSize</key><integer>` + itoa(diskSize) + `</integer>
			</dict></plist>`), nil
		default:
			return []byte(""), nil
		}
	}}

	sourcePath := filepath.Join(t.TempDir(), "oversized.img")
	if err := os.WriteFile(sourcePath, make([]byte, diskSize*2), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, _ := newTestPlanner(t, exec, filepath.Join(t.TempDir(), "journal.json"))
	_, err := p.Dispatch(context.Background(), "flash_image", Payload{
		"sourcePath": sourcePath, "targetDevice": "disk8",
	})
	if err == nil {
		t.Fatal("Dispatch() expected an error for an oversized source image, got nil")
	}
	if !errors.Is(err, ErrSafetyGate) {
		t.Errorf("error = %v, want errors.Is(err, ErrSafetyGate)", err)
	}
	for _, call := range exec.calls {
		if strings.Contains(call, "unmount") {
			t.Errorf("calls = %v, want no unmount call once the size guard rejects the request", exec.calls)
		}
	}
}

// TestPreflightCheck_BusyVolume exercises S6: a mounted volume with an
// open file handle is reported as a blocker with the holder listed.
func TestPreflightCheck_BusyVolume(t *testing.T) {
	exec := &handlerExecutor{t: t, handler: func(name string, args []string) ([]byte, error) {
		switch {
		case name == "diskutil" && subcommand(args) == "info" && len(args) > 2 && strings.Contains(args[2], "s1"):
			return []byte(`<?xml version="1.0"?><plist><dict>
				<key>DeviceIdentifier</key><string>disk7s1</string>
				<key>ParentWholeDisk</key><string>disk7</string>
				<key>PartitionOffset</key><integer>1048576</integer>
				<key>PartitionSize</key><integer>4294967296</integer>
				<key>DeviceBlockSize</key><integer>512</integer>
				<key>MountPoint</key><string>/Volumes/Stuff</string>
			</dict></plist>`), nil
		case name == "diskutil" && subcommand(args) == "info":
			return []byte(genericDiskInfoPlist), nil
		case name == "diskutil" && subcommand(args) == "list":
			return []byte(`<?xml version="1.0"?><plist><dict><key>Partitions</key><array><dict>
				<key>DeviceIdentifier</key><string>disk7s1</string>
			</dict></array></dict></plist>`), nil
		case isBinary(name, "pmset"):
			return []byte("Now drawing from 'AC Power'"), nil
		case isBinary(name, "lsof"):
			return []byte("COMMAND   PID USER   FD   TYPE DEVICE SIZE/OFF NODE NAME\n" +
				"vim      4242 root  txt    REG    1,4    12345  100 /Volumes/Stuff/file.txt\n"), nil
		default:
			return []byte(""), nil
		}
	}}

	p, _ := newTestPlanner(t, exec, filepath.Join(t.TempDir(), "journal.json"))
	result, err := p.Dispatch(context.Background(), "preflight_check", Payload{
		"operation": "delete_partition", "partitionIdentifier": "disk7s1",
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	details := result.(map[string]any)
	if details["ok"] != false {
		t.Errorf("ok = %v, want false", details["ok"])
	}
	blockers := details["blockers"].([]string)
	var sawBusy bool
	for _, b := range blockers {
		if strings.Contains(b, "busy") {
			sawBusy = true
		}
	}
	if !sawBusy {
		t.Errorf("blockers = %v, want one mentioning the volume being busy", blockers)
	}
	busy := details["busyProcesses"].([]map[string]any)
	if len(busy) != 1 || busy[0]["pid"] != 4242 || busy[0]["command"] != "vim" {
		t.Errorf("busyProcesses = %+v, want [{pid:4242 command:vim}]", busy)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

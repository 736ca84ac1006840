package metadata

import (
	"context"
	"testing"

	"github.com/oliverquick/oxidisk/diskshell"
	"github.com/oliverquick/oxidisk/sysexec"
)

const partitionInfoPlist = `<?xml version="1.0"?>
<plist><dict>
	<key>DeviceIdentifier</key><string>disk4s1</string>
	<key>ParentWholeDisk</key><string>disk4</string>
	<key>PartitionOffset</key><integer>1048576</integer>
	<key>PartitionSize</key><integer>4294967296</integer>
	<key>DeviceBlockSize</key><integer>512</integer>
	<key>FilesystemType</key><string>msdos</string>
</dict></plist>`

func newReader(mock *sysexec.MockExecutor) *Reader {
	return New(diskshell.New(mock))
}

// argRoutedExecutor dispatches diskutil output by argv, since a real
// PartitionInfo call makes several diskutil invocations (partition
// info, disk info, disk list) each needing different plist content.
type argRoutedExecutor struct {
	sysexec.Executor
	routes map[string][]byte
}

func (e *argRoutedExecutor) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	key := name
	for _, a := range args {
		key += " " + a
	}
	for prefix, out := range e.routes {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			return out, nil
		}
	}
	return nil, nil
}

func TestPartitionInfo(t *testing.T) {
	exec := &argRoutedExecutor{routes: map[string][]byte{
		"diskutil info -plist /dev/disk4s1": []byte(partitionInfoPlist),
		"diskutil info -plist /dev/disk4":   []byte(`<?xml version="1.0"?><plist><dict><key>TotalSize</key><integer>8589934592</integer></dict></plist>`),
		"diskutil list -plist /dev/disk4":   []byte(`<?xml version="1.0"?><plist><dict><key>Partitions</key><array><dict><key>DeviceIdentifier</key><string>disk4s1</string></dict></array></dict></plist>`),
	}}
	r := New(diskshell.New(exec))

	p, err := r.PartitionInfo(context.Background(), "disk4s1")
	if err != nil {
		t.Fatalf("PartitionInfo() error = %v", err)
	}
	if p.Offset != 1048576 || p.Size != 4294967296 {
		t.Errorf("PartitionInfo() = %+v", p)
	}
	if p.Disk != "/dev/disk4" {
		t.Errorf("Disk = %q, want /dev/disk4", p.Disk)
	}
	if p.MaxEnd != 8589934592 {
		t.Errorf("MaxEnd = %d, want disk TotalSize since disk4s1 is the only partition", p.MaxEnd)
	}
}

func TestFuseTag_PriorityOrder(t *testing.T) {
	tests := []struct {
		candidates []string
		want       Tag
	}{
		{[]string{"msdos", "apple_apfs"}, TagFAT32},
		{[]string{"apfs_container"}, TagAPFS},
		{[]string{"linux"}, TagExt4},
		{[]string{"ntfs"}, TagNTFS},
		{nil, TagUnknown},
	}
	for _, tt := range tests {
		if got := FuseTag(tt.candidates); got != tt.want {
			t.Errorf("FuseTag(%v) = %q, want %q", tt.candidates, got, tt.want)
		}
	}
}

func TestIsProtected(t *testing.T) {
	if IsProtected([]string{"Data"}) {
		t.Errorf("Data alone should not be protected")
	}
	if !IsProtected([]string{"System", "Data", "Preboot", "Recovery", "VM"}) {
		t.Errorf("full role set should be protected")
	}
}

func TestFindPartitionByLabel(t *testing.T) {
	mock := sysexec.NewMock()
	mock.SetOutput("diskutil", []byte(`<?xml version="1.0"?>
<plist><dict>
	<key>AllDisksAndPartitions</key>
	<array>
		<dict>
			<key>Partitions</key>
			<array>
				<dict>
					<key>VolumeName</key><string>OXI_TMP_1</string>
					<key>DeviceIdentifier</key><string>disk4s2</string>
				</dict>
			</array>
		</dict>
	</array>
</dict></plist>`))
	r := newReader(mock)

	id, ok, err := r.FindPartitionByLabel(context.Background(), "OXI_TMP_1")
	if err != nil {
		t.Fatalf("FindPartitionByLabel() error = %v", err)
	}
	if !ok || id != "disk4s2" {
		t.Errorf("FindPartitionByLabel() = (%q, %v), want (disk4s2, true)", id, ok)
	}
}

func TestFindPartitionByLabel_NotFound(t *testing.T) {
	mock := sysexec.NewMock()
	mock.SetOutput("diskutil", []byte(`<?xml version="1.0"?><plist><dict>
		<key>AllDisksAndPartitions</key><array></array>
	</dict></plist>`))
	r := newReader(mock)

	_, ok, err := r.FindPartitionByLabel(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("FindPartitionByLabel() error = %v", err)
	}
	if ok {
		t.Errorf("expected not found")
	}
}

package fsdriver

import "testing"

func TestLookup_Ext4(t *testing.T) {
	d, ok := Lookup("ext4")
	if !ok {
		t.Fatalf("expected ext4 driver")
	}

	cmd, ok := d.Mkfs("/dev/disk4s1", "DATA")
	if !ok {
		t.Fatalf("expected mkfs command")
	}
	if cmd.Binary != "mkfs.ext4" {
		t.Errorf("Binary = %q, want mkfs.ext4", cmd.Binary)
	}
	wantArgs := []string{"-F", "-L", "DATA", "/dev/disk4s1"}
	if !equalArgs(cmd.Args, wantArgs) {
		t.Errorf("Args = %v, want %v", cmd.Args, wantArgs)
	}

	uuidCmd, ok := d.UUID("/dev/disk4s1", "random")
	if !ok || uuidCmd.Binary != "tune2fs" {
		t.Errorf("UUID command = %+v, ok=%v", uuidCmd, ok)
	}
}

func TestLookup_F2fsHasNoLabelOrUUID(t *testing.T) {
	d, ok := Lookup("f2fs")
	if !ok {
		t.Fatalf("expected f2fs driver")
	}
	if _, ok := d.Label("/dev/disk4s1", "DATA"); ok {
		t.Errorf("f2fs should not support label")
	}
	if _, ok := d.UUID("/dev/disk4s1", "random"); ok {
		t.Errorf("f2fs should not support uuid")
	}
	cmd, ok := d.Mkfs("/dev/disk4s1", "DATA")
	if !ok || cmd.Binary != "mkfs.f2fs" || len(cmd.Args) != 1 {
		t.Errorf("f2fs mkfs = %+v, ok=%v", cmd, ok)
	}
}

func TestLookup_NtfsHasNoUUID(t *testing.T) {
	d, ok := Lookup("ntfs")
	if !ok {
		t.Fatalf("expected ntfs driver")
	}
	if _, ok := d.UUID("/dev/disk4s1", "random"); ok {
		t.Errorf("ntfs should not support uuid")
	}
}

func TestLookup_Unknown(t *testing.T) {
	if _, ok := Lookup("zfs"); ok {
		t.Errorf("zfs should not be registered")
	}
}

func TestGPTTypeCode(t *testing.T) {
	tests := []struct {
		id   string
		want string
		ok   bool
	}{
		{"ext4", "8300", true},
		{"btrfs", "8300", true},
		{"xfs", "8300", true},
		{"f2fs", "8300", true},
		{"ntfs", "0700", true},
		{"swap", "8200", true},
		{"apfs", "", false},
		{"exfat", "", false},
	}
	for _, tt := range tests {
		got, ok := GPTTypeCode(tt.id)
		if got != tt.want || ok != tt.ok {
			t.Errorf("GPTTypeCode(%q) = (%q, %v), want (%q, %v)", tt.id, got, ok, tt.want, tt.ok)
		}
	}
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

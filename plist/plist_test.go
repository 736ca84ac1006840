package plist

import (
	"strings"
	"testing"
)

const samplePartitionPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>DeviceIdentifier</key>
	<string>disk4s1</string>
	<key>ParentWholeDisk</key>
	<string>disk4</string>
	<key>PartitionOffset</key>
	<integer>1048576</integer>
	<key>PartitionSize</key>
	<integer>4294967296</integer>
	<key>DeviceBlockSize</key>
	<integer>512</integer>
	<key>FilesystemType</key>
	<string>msdos</string>
	<key>Content</key>
	<string>Apple_APFS</string>
	<key>APFSVolumeRoles</key>
	<array>
		<string>System</string>
		<string>Data</string>
	</array>
</dict>
</plist>
`

func TestDecode_Partition(t *testing.T) {
	doc, err := Decode(strings.NewReader(samplePartitionPlist))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	dict := doc.Root.Dict
	if dict == nil {
		t.Fatalf("expected root dict")
	}

	id, ok := dict.String("DeviceIdentifier")
	if !ok || id != "disk4s1" {
		t.Errorf("DeviceIdentifier = (%q, %v), want (disk4s1, true)", id, ok)
	}

	offset, ok := dict.UnsignedInteger("PartitionOffset")
	if !ok || offset != 1048576 {
		t.Errorf("PartitionOffset = (%d, %v), want (1048576, true)", offset, ok)
	}

	blockSize, ok := dict.FirstUnsignedInteger("DeviceBlockSize")
	if !ok || blockSize != 512 {
		t.Errorf("DeviceBlockSize = (%d, %v), want (512, true)", blockSize, ok)
	}

	_, ok = dict.FirstUnsignedInteger("NoSuchKey", "AlsoMissing")
	if ok {
		t.Errorf("FirstUnsignedInteger should fail when no key matches")
	}

	roles, ok := dict.FirstArray("APFSVolumeRoles")
	if !ok {
		t.Fatalf("expected APFSVolumeRoles array")
	}
	if got := roles.StringSlice(); len(got) != 2 || got[0] != "System" || got[1] != "Data" {
		t.Errorf("APFSVolumeRoles = %v, want [System Data]", got)
	}
}

func TestDecode_FallbackKeys(t *testing.T) {
	const doc = `<plist><dict>
		<key>UsedSpace</key>
		<integer>2048</integer>
	</dict></plist>`

	d, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	used, ok := d.Root.Dict.FirstUnsignedInteger("VolumeUsedSpace", "UsedSpace", "VolumeAllocatedSpace")
	if !ok || used != 2048 {
		t.Errorf("fallback lookup = (%d, %v), want (2048, true)", used, ok)
	}
}

func TestDecode_InvalidXML(t *testing.T) {
	_, err := Decode(strings.NewReader("not xml"))
	if err == nil {
		t.Errorf("expected error decoding invalid xml")
	}
}

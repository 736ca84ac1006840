// Package fsdriver holds the filesystem driver registry: a closed table
// keyed by filesystem id, each entry answering three optional queries
// (mkfs, label, uuid) with an (argv[0], argv[1:]) pair. Absence of a
// capability is a legitimate value, not an exception — callers must
// branch on the bool, never assume presence.
//
// Grounded on the fs_driver.rs driver table: a closed tagged variant
// rather than open subtype inheritance, matching spec §9's guidance.
package fsdriver

// Command is one external invocation: argv[0] plus the remaining
// arguments.
type Command struct {
	Binary string
	Args   []string
}

// Driver answers mkfs/label/uuid queries for one filesystem id. Nil
// function fields mean the capability is unsupported for that id.
type Driver struct {
	ID    string
	Mkfs  func(device, label string) (Command, bool)
	Label func(device, label string) (Command, bool)
	UUID  func(device, uuid string) (Command, bool)
}

func unsupported(string, string) (Command, bool) { return Command{}, false }

var registry = map[string]Driver{
	"ext4": {
		ID: "ext4",
		Mkfs: func(device, label string) (Command, bool) {
			return Command{"mkfs.ext4", []string{"-F", "-L", label, device}}, true
		},
		Label: func(device, label string) (Command, bool) {
			return Command{"e2label", []string{device, label}}, true
		},
		UUID: func(device, uuid string) (Command, bool) {
			return Command{"tune2fs", []string{"-U", uuid, device}}, true
		},
	},
	"ntfs": {
		ID: "ntfs",
		Mkfs: func(device, label string) (Command, bool) {
			return Command{"mkfs.ntfs", []string{"-F", "-L", label, device}}, true
		},
		Label: func(device, label string) (Command, bool) {
			return Command{"ntfslabel", []string{device, label}}, true
		},
		UUID: unsupported,
	},
	"btrfs": {
		ID: "btrfs",
		Mkfs: func(device, label string) (Command, bool) {
			return Command{"mkfs.btrfs", []string{"-f", "-L", label, device}}, true
		},
		Label: func(device, label string) (Command, bool) {
			return Command{"btrfs", []string{"filesystem", "label", device, label}}, true
		},
		UUID: unsupported,
	},
	"xfs": {
		ID: "xfs",
		Mkfs: func(device, label string) (Command, bool) {
			return Command{"mkfs.xfs", []string{"-f", "-L", label, device}}, true
		},
		Label: func(device, label string) (Command, bool) {
			return Command{"xfs_admin", []string{"-L", label, device}}, true
		},
		UUID: unsupported,
	},
	"f2fs": {
		ID: "f2fs",
		Mkfs: func(device, _ string) (Command, bool) {
			return Command{"mkfs.f2fs", []string{device}}, true
		},
		Label: unsupported,
		UUID:  unsupported,
	},
	"swap": {
		ID: "swap",
		Mkfs: func(device, label string) (Command, bool) {
			return Command{"mkswap", []string{"-L", label, device}}, true
		},
		Label: func(device, label string) (Command, bool) {
			return Command{"swaplabel", []string{"-L", label, device}}, true
		},
		UUID: func(device, uuid string) (Command, bool) {
			return Command{"swaplabel", []string{"-U", uuid, device}}, true
		},
	},
}

// Lookup returns the driver registered for id, and whether one exists.
func Lookup(id string) (Driver, bool) {
	d, ok := registry[id]
	return d, ok
}

// IDs returns the registered driver ids in a fixed order.
func IDs() []string {
	return []string{"ext4", "ntfs", "btrfs", "xfs", "f2fs", "swap"}
}

// GPTTypeCode returns the GPT partition type code sgdisk should write
// for a driver id after a Linux-route format, per the wipe_device type
// code map. FAT/exFAT/APFS are not in this table — they are left as-is.
func GPTTypeCode(id string) (string, bool) {
	switch id {
	case "ext4", "btrfs", "xfs", "f2fs":
		return "8300", true
	case "ntfs":
		return "0700", true
	case "swap":
		return "8200", true
	default:
		return "", false
	}
}

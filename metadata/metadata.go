// Package metadata turns the XML property lists returned by diskutil
// into the Partition Info, Disk Info and APFS topology views the rest
// of the engine operates on. Every field is resolved through an
// ordered fallback key list, the normalisation point between diskutil
// schema versions across macOS releases.
//
// Grounded on read_partition_info/disk_max_end/detect_fs_type/
// find_partition_by_label in the original helper, rebuilt against
// plist.Dict instead of a Rust plist crate.
package metadata

import (
	"context"
	"fmt"
	"strings"

	"github.com/oliverquick/oxidisk/device"
	"github.com/oliverquick/oxidisk/diskshell"
	"github.com/oliverquick/oxidisk/plist"
)

// Tag is a normalised filesystem family.
type Tag string

const (
	TagAPFS    Tag = "apfs"
	TagHFSPlus Tag = "hfs+"
	TagExFAT   Tag = "exfat"
	TagFAT32   Tag = "fat32"
	TagExt4    Tag = "ext4"
	TagNTFS    Tag = "ntfs"
	TagBtrfs   Tag = "btrfs"
	TagXFS     Tag = "xfs"
	TagF2FS    Tag = "f2fs"
	TagSwap    Tag = "swap"
	TagUnknown Tag = "unknown"
)

// Partition is the metadata view of a single partition.
type Partition struct {
	Device          string
	Disk            string
	Offset          uint64
	Size            uint64
	BlockSize       uint64
	MinStart        uint64
	MaxEnd          uint64
	MountPoint      string
	UsedSpace       uint64
	HasUsedSpace    bool
	VolumeRoles     []string
	FilesystemType  string
	Content         string
	FilesystemTypeL string // lowercased Type/personality field, for fusion
}

// Reader resolves partition and disk metadata via diskutil -plist.
type Reader struct {
	shell *diskshell.Shell
}

// New creates a Reader backed by the given Shell.
func New(shell *diskshell.Shell) *Reader {
	return &Reader{shell: shell}
}

func (r *Reader) infoPlist(ctx context.Context, identifier string) (plist.Dict, error) {
	out, err := r.shell.Diskutil(ctx, "info", "-plist", identifier)
	if err != nil {
		return nil, err
	}
	doc, err := plist.Decode(strings.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("parse diskutil info for %s: %w", identifier, err)
	}
	if doc.Root.Dict == nil {
		return nil, fmt.Errorf("diskutil info for %s: not a dict", identifier)
	}
	return doc.Root.Dict, nil
}

func (r *Reader) listPlist(ctx context.Context, args ...string) (plist.Dict, error) {
	full := append([]string{"list", "-plist"}, args...)
	out, err := r.shell.Diskutil(ctx, full...)
	if err != nil {
		return nil, err
	}
	doc, err := plist.Decode(strings.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("parse diskutil list: %w", err)
	}
	if doc.Root.Dict == nil {
		return nil, fmt.Errorf("diskutil list: not a dict")
	}
	return doc.Root.Dict, nil
}

// PartitionInfo reads the partition metadata for identifier, including
// the disk-derived MaxEnd bound used by resize/move validation.
func (r *Reader) PartitionInfo(ctx context.Context, identifier string) (Partition, error) {
	dev := device.Normalize(identifier)
	dict, err := r.infoPlist(ctx, dev)
	if err != nil {
		return Partition{}, err
	}

	offset, ok := dict.FirstUnsignedInteger("PartitionOffset")
	if !ok {
		return Partition{}, fmt.Errorf("PartitionOffset missing for %s", dev)
	}
	size, ok := dict.FirstUnsignedInteger("PartitionSize")
	if !ok {
		return Partition{}, fmt.Errorf("PartitionSize missing for %s", dev)
	}
	blockSize, ok := dict.FirstUnsignedInteger("DeviceBlockSize")
	if !ok {
		blockSize = 512
	}
	parent, ok := dict.FirstString("ParentWholeDisk")
	if !ok {
		return Partition{}, fmt.Errorf("ParentWholeDisk missing for %s", dev)
	}
	disk := device.Normalize(parent)

	deviceID, ok := dict.FirstString("DeviceIdentifier")
	if !ok {
		deviceID = dev
	} else {
		deviceID = device.Normalize(deviceID)
	}

	p := Partition{
		Device:    deviceID,
		Disk:      disk,
		Offset:    offset,
		Size:      size,
		BlockSize: blockSize,
		MinStart:  offset,
	}

	if mp, ok := dict.FirstString("MountPoint"); ok {
		p.MountPoint = mp
	}
	if used, ok := dict.FirstUnsignedInteger("VolumeUsedSpace", "UsedSpace", "VolumeAllocatedSpace"); ok {
		p.UsedSpace, p.HasUsedSpace = used, true
	}
	if roles, ok := dict.FirstArray("APFSVolumeRoles"); ok {
		p.VolumeRoles = roles.StringSlice()
	}
	if ft, ok := dict.FirstString("FilesystemType"); ok {
		p.FilesystemType = ft
	}
	if c, ok := dict.FirstString("Content"); ok {
		p.Content = c
	}
	if t, ok := dict.FirstString("Type"); ok {
		p.FilesystemTypeL = strings.ToLower(t)
	}

	maxEnd, err := r.diskMaxEnd(ctx, disk, deviceID, offset)
	if err != nil {
		return Partition{}, err
	}
	p.MaxEnd = maxEnd

	return p, nil
}

// DiskSize reads a whole disk's TotalSize/DiskSize, for a pre-write
// capacity check such as flash_image's source-fits-target guard. known
// is false if diskutil reports no size field for identifier.
func (r *Reader) DiskSize(ctx context.Context, identifier string) (size uint64, known bool, err error) {
	dict, err := r.infoPlist(ctx, identifier)
	if err != nil {
		return 0, false, err
	}
	size, known = dict.FirstUnsignedInteger("TotalSize", "DiskSize")
	return size, known, nil
}

// diskMaxEnd is the disk's total size, or the start offset of the next
// partition after the one being examined (the lowest partition offset
// above after), whichever comes first — the legal upper bound for a
// resize or move.
func (r *Reader) diskMaxEnd(ctx context.Context, disk, excludeDevice string, after uint64) (uint64, error) {
	diskDict, err := r.infoPlist(ctx, disk)
	if err != nil {
		return 0, err
	}
	diskSize, ok := diskDict.FirstUnsignedInteger("TotalSize", "DiskSize")
	if !ok {
		return 0, fmt.Errorf("disk size missing for %s", disk)
	}

	ids, err := r.ListPartitionIDs(ctx, disk)
	if err != nil {
		return 0, err
	}

	var nextStart uint64
	haveNext := false
	for _, id := range ids {
		partDevice := device.Normalize(id)
		if partDevice == excludeDevice {
			continue
		}
		dict, err := r.infoPlist(ctx, partDevice)
		if err != nil {
			continue
		}
		offset, ok := dict.FirstUnsignedInteger("PartitionOffset")
		if !ok || offset <= after {
			continue
		}
		if !haveNext || offset < nextStart {
			nextStart, haveNext = offset, true
		}
	}

	if haveNext {
		return nextStart, nil
	}
	return diskSize, nil
}

// ListPartitionIDs returns the bare device identifiers of disk's
// partitions, in document order.
func (r *Reader) ListPartitionIDs(ctx context.Context, disk string) ([]string, error) {
	dict, err := r.listPlist(ctx, disk)
	if err != nil {
		return nil, err
	}
	parts, ok := dict.Array("Partitions")
	if !ok {
		return nil, nil
	}
	var ids []string
	for _, v := range parts {
		if v.Dict == nil {
			continue
		}
		if id, ok := v.Dict.FirstString("DeviceIdentifier"); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FindPartitionByLabel scans the full disk list for a volume with the
// given name, returning its bare device identifier. Used to locate a
// throwaway-labelled partition right after diskutil creates it.
func (r *Reader) FindPartitionByLabel(ctx context.Context, label string) (string, bool, error) {
	dict, err := r.listPlist(ctx)
	if err != nil {
		return "", false, err
	}
	disks, ok := dict.Array("AllDisksAndPartitions")
	if !ok {
		return "", false, fmt.Errorf("diskutil list: AllDisksAndPartitions missing")
	}
	for _, diskVal := range disks {
		if diskVal.Dict == nil {
			continue
		}
		parts, ok := diskVal.Dict.Array("Partitions")
		if !ok {
			continue
		}
		for _, partVal := range parts {
			if partVal.Dict == nil {
				continue
			}
			name, _ := partVal.Dict.FirstString("VolumeName")
			if name != label {
				continue
			}
			id, ok := partVal.Dict.FirstString("DeviceIdentifier")
			if ok && id != "" {
				return id, true, nil
			}
		}
	}
	return "", false, nil
}

// Tag fuses the partition's already-resolved filesystem fields into a
// normalised Tag, in the same priority order DetectTag applies — for
// callers that already hold a Partition and want its tag without a
// second diskutil round trip.
func (p Partition) Tag() Tag {
	return FuseTag([]string{strings.ToLower(p.FilesystemType), p.FilesystemTypeL, strings.ToLower(p.Content)})
}

// DetectTag resolves the Filesystem Tag for identifier via the three
// candidate fields, fused in fixed priority order.
func (r *Reader) DetectTag(ctx context.Context, identifier string) (Tag, error) {
	dict, err := r.infoPlist(ctx, device.Normalize(identifier))
	if err != nil {
		return TagUnknown, err
	}
	var candidates []string
	if v, ok := dict.FirstString("FilesystemType"); ok {
		candidates = append(candidates, strings.ToLower(v))
	}
	if v, ok := dict.FirstString("Type"); ok {
		candidates = append(candidates, strings.ToLower(v))
	}
	if v, ok := dict.FirstString("Content"); ok {
		candidates = append(candidates, strings.ToLower(v))
	}
	return FuseTag(candidates), nil
}

// FuseTag applies the fixed-priority substring match rule over the
// candidate fields, in document order, stopping at the first match.
//
// Per the open question left by the original implementation, "linux"
// is treated as ext4; this is a known imprecision for xfs/btrfs/f2fs
// content descriptors carried forward deliberately.
func FuseTag(candidates []string) Tag {
	for _, c := range candidates {
		switch {
		case strings.Contains(c, "apfs"):
			return TagAPFS
		case strings.Contains(c, "exfat"):
			return TagExFAT
		case strings.Contains(c, "msdos"), strings.Contains(c, "fat32"), strings.Contains(c, "fat"):
			return TagFAT32
		case strings.Contains(c, "ntfs"):
			return TagNTFS
		case strings.Contains(c, "ext4"), strings.Contains(c, "linux"):
			return TagExt4
		case strings.Contains(c, "btrfs"):
			return TagBtrfs
		case strings.Contains(c, "xfs"):
			return TagXFS
		case strings.Contains(c, "f2fs"):
			return TagF2FS
		case strings.Contains(c, "swap"):
			return TagSwap
		case strings.Contains(c, "hfs"):
			return TagHFSPlus
		}
	}
	return TagUnknown
}

// ProtectedRoleSet is the fixed set of APFS volume roles that together
// flag a volume as part of the host OS installation. Per the policy
// decision recorded for this engine, any one role present is not
// sufficient; the full set must be present.
var ProtectedRoleSet = []string{"System", "Data", "Preboot", "Recovery", "VM"}

// IsProtected reports whether roles contains every role in
// ProtectedRoleSet.
func IsProtected(roles []string) bool {
	have := make(map[string]bool, len(roles))
	for _, r := range roles {
		have[r] = true
	}
	for _, want := range ProtectedRoleSet {
		if !have[want] {
			return false
		}
	}
	return true
}

// Container is the metadata view of one APFS container.
type Container struct {
	ID       string
	UUID     string
	Capacity uint64
	Free     uint64
	Used     uint64
	Volumes  []Volume
}

// Volume is the metadata view of one APFS volume within a container.
type Volume struct {
	ID         string
	Name       string
	Roles      []string
	Size       uint64
	Used       uint64
	MountPoint string
}

// FindContainer enumerates diskutil's top-level Containers array and
// returns the first whose reference, physical stores, or volumes match
// needle (with any "/dev/" prefix stripped).
func (r *Reader) FindContainer(ctx context.Context, needle string) (Container, bool, error) {
	needle = strings.TrimPrefix(needle, "/dev/")

	out, err := r.shell.Diskutil(ctx, "apfs", "list", "-plist")
	if err != nil {
		return Container{}, false, err
	}
	doc, err := plist.Decode(strings.NewReader(out))
	if err != nil {
		return Container{}, false, fmt.Errorf("parse apfs list: %w", err)
	}
	if doc.Root.Dict == nil {
		return Container{}, false, fmt.Errorf("apfs list: not a dict")
	}

	containers, ok := doc.Root.Dict.Array("Containers")
	if !ok {
		return Container{}, false, nil
	}

	for _, cv := range containers {
		if cv.Dict == nil {
			continue
		}
		cd := cv.Dict

		ref, _ := cd.FirstString("ContainerReference", "DeviceIdentifier", "ContainerIdentifier")
		ref = strings.TrimPrefix(ref, "/dev/")

		matched := ref == needle

		var physicalRefs []string
		if stores, ok := cd.FirstArray("PhysicalStores", "APFSPhysicalStores"); ok {
			for _, sv := range stores {
				if sv.Dict == nil {
					continue
				}
				if id, ok := sv.Dict.FirstString("DeviceIdentifier"); ok {
					id = strings.TrimPrefix(id, "/dev/")
					physicalRefs = append(physicalRefs, id)
					if id == needle {
						matched = true
					}
				}
			}
		}

		var volumes []Volume
		volArr, _ := cd.FirstArray("Volumes", "APFSVolumes")
		for _, vv := range volArr {
			if vv.Dict == nil {
				continue
			}
			vd := vv.Dict
			volID, _ := vd.FirstString("DeviceIdentifier")
			volIDTrimmed := strings.TrimPrefix(volID, "/dev/")
			if volIDTrimmed == needle {
				matched = true
			}
			var roles []string
			if ra, ok := vd.FirstArray("Roles", "APFSVolumeRoles"); ok {
				roles = ra.StringSlice()
			}
			name, _ := vd.FirstString("Name")
			size, _ := vd.FirstUnsignedInteger("CapacityInUse", "Size")
			used, _ := vd.FirstUnsignedInteger("CapacityInUse", "VolumeUsedSpace", "UsedSpace")
			mount, _ := vd.FirstString("MountPoint")
			volumes = append(volumes, Volume{
				ID:         device.Normalize(volID),
				Name:       name,
				Roles:      roles,
				Size:       size,
				Used:       used,
				MountPoint: mount,
			})
		}

		if !matched {
			continue
		}

		uuid, _ := cd.FirstString("APFSContainerUUID", "ContainerUUID")
		capacity, _ := cd.FirstUnsignedInteger("CapacityCeiling", "Capacity")
		free, _ := cd.FirstUnsignedInteger("CapacityFree")
		used, _ := cd.FirstUnsignedInteger("CapacityInUse", "CapacityUsed")

		return Container{
			ID:       device.Normalize(ref),
			UUID:     uuid,
			Capacity: capacity,
			Free:     free,
			Used:     used,
			Volumes:  volumes,
		}, true, nil
	}

	return Container{}, false, nil
}

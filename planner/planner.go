// Package planner implements the top-level operation dispatcher: one
// method per recognised action, each composing the quiescence, driver,
// metadata, block-mover and journal packages, enforcing the invariants
// and producing the result payload that becomes the terminal response.
//
// Grounded on the handle_* functions in the original helper; translated
// action-by-action from its json!({...}) result shapes into
// map[string]any values returned as the `details` field of
// eventstream.Response.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oliverquick/oxidisk/device"
	"github.com/oliverquick/oxidisk/diskshell"
	"github.com/oliverquick/oxidisk/eventstream"
	"github.com/oliverquick/oxidisk/fsdriver"
	"github.com/oliverquick/oxidisk/grammar"
	"github.com/oliverquick/oxidisk/journal"
	"github.com/oliverquick/oxidisk/metadata"
	"github.com/oliverquick/oxidisk/quiesce"
)

// Planner dispatches actions, wiring together the lower-level engine
// components.
type Planner struct {
	Shell    *diskshell.Shell
	Meta     *metadata.Reader
	Quiescer *quiesce.Quiescer
	Journal  *journal.Journal
	Stream   *eventstream.Stream

	// Clock is overridable in tests; defaults to time.Now.
	Clock func() time.Time
}

// New wires a Planner from its constituent components.
func New(shell *diskshell.Shell, meta *metadata.Reader, quiescer *quiesce.Quiescer, j *journal.Journal, stream *eventstream.Stream) *Planner {
	return &Planner{Shell: shell, Meta: meta, Quiescer: quiescer, Journal: j, Stream: stream, Clock: time.Now}
}

// Payload is a decoded request payload: the raw JSON object under the
// "payload" key.
type Payload map[string]any

func (p Payload) str(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (p Payload) mustStr(key string) (string, error) {
	s, ok := p.str(key)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: missing field: %s", ErrInput, key)
	}
	return s, nil
}

func (p Payload) boolOr(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// ErrUnknownAction is returned when no dispatcher matches the request
// action.
type ErrUnknownAction string

func (e ErrUnknownAction) Error() string { return fmt.Sprintf("unknown action: %s", string(e)) }

// Dispatch routes action to its handler and returns the JSON-able
// details value for a successful response. On error the caller is
// expected to surface err.Error() as the response message.
func (p *Planner) Dispatch(ctx context.Context, action string, payload Payload) (any, error) {
	switch action {
	case "wipe_device":
		return p.wipeDevice(ctx, payload)
	case "create_partition_table":
		return p.createPartitionTable(ctx, payload)
	case "create_partition":
		return p.createPartition(ctx, payload)
	case "delete_partition":
		return p.deletePartition(ctx, payload)
	case "format_partition":
		return p.formatPartition(ctx, payload)
	case "check_partition":
		return p.checkPartition(ctx, payload)
	case "resize_partition":
		return p.resizePartition(ctx, payload)
	case "move_partition":
		return p.movePartition(ctx, payload)
	case "copy_partition":
		return p.copyPartition(ctx, payload)
	case "set_label_uuid":
		return p.setLabelUUID(ctx, payload)
	case "preflight_check":
		return p.preflightCheck(ctx, payload)
	case "force_unmount":
		return p.forceUnmount(ctx, payload)
	case "apfs_list_volumes":
		return p.apfsListVolumes(ctx, payload)
	case "apfs_add_volume":
		return p.apfsAddVolume(ctx, payload)
	case "apfs_delete_volume":
		return p.apfsDeleteVolume(ctx, payload)
	case "flash_image":
		return p.flashImage(ctx, payload)
	case "get_journal":
		return p.getJournal(ctx, payload)
	case "clear_journal":
		return p.clearJournal(ctx, payload)
	default:
		return nil, ErrUnknownAction(action)
	}
}

func tableScheme(tableType string) (string, error) {
	switch strings.ToLower(tableType) {
	case "gpt":
		return "GPT", nil
	case "mbr":
		return "MBR", nil
	default:
		return "", fmt.Errorf("%w: unsupported table type: %s", ErrInput, tableType)
	}
}

// nativeFormatName maps a request formatType to the diskutil format
// name for the three host-native filesystems.
func nativeFormatName(formatType string) (name string, native bool) {
	switch strings.ToLower(formatType) {
	case "apfs":
		return "APFS", true
	case "exfat":
		return "ExFAT", true
	case "fat32":
		return "MS-DOS", true
	default:
		return "", false
	}
}

func throwawayLabel(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (p *Planner) wipeDevice(ctx context.Context, payload Payload) (any, error) {
	deviceIdentifier, err := payload.mustStr("deviceIdentifier")
	if err != nil {
		return nil, err
	}
	tableType, err := payload.mustStr("tableType")
	if err != nil {
		return nil, err
	}
	formatType, err := payload.mustStr("formatType")
	if err != nil {
		return nil, err
	}
	label, err := payload.mustStr("label")
	if err != nil {
		return nil, err
	}

	scheme, err := tableScheme(tableType)
	if err != nil {
		return nil, err
	}
	dev := device.Normalize(deviceIdentifier)

	if err := p.Quiescer.Quiesce(ctx, dev); err != nil {
		return nil, err
	}

	if native, ok := nativeFormatName(formatType); ok {
		if _, err := p.Shell.Diskutil(ctx, "eraseDisk", native, label, scheme, dev); err != nil {
			return nil, err
		}
		return map[string]any{"device": dev, "format": native, "scheme": scheme}, nil
	}

	fsID := strings.ToLower(formatType)
	partition, warning, err := p.linuxRouteWipe(ctx, dev, scheme, fsID, label)
	if err != nil {
		return nil, err
	}
	return map[string]any{"device": dev, "partition": partition, "format": fsID, "scheme": scheme, "warning": warning}, nil
}

// linuxRouteWipe creates a throwaway MS-DOS-formatted full-disk
// partition, runs the driver's mkfs over it, and rewrites its GPT type
// code. Used by wipe_device for the Linux filesystem family;
// create_partition runs the same steps inline, and format_partition
// runs mkfs and the type-code rewrite on the existing partition.
func (p *Planner) linuxRouteWipe(ctx context.Context, dev, scheme, fsID, label string) (partition string, warning string, err error) {
	driver, ok := fsdriver.Lookup(fsID)
	if !ok {
		return "", "", fmt.Errorf("%w: unsupported format type: %s", ErrInput, fsID)
	}

	tempLabel := throwawayLabel("OXI_TMP")
	if _, err := p.Shell.Diskutil(ctx, "eraseDisk", "MS-DOS", tempLabel, scheme, dev); err != nil {
		return "", "", err
	}

	newID, found, err := p.Meta.FindPartitionByLabel(ctx, tempLabel)
	if err != nil {
		return "", "", err
	}
	if !found {
		return "", "", fmt.Errorf("%w: failed to locate new partition", ErrDevice)
	}
	newDevice := device.Normalize(newID)

	if err := p.Shell.DiskutilQuiet(ctx, "unmount", newDevice); err != nil {
		return "", "", err
	}

	mkfsCmd, ok := driver.Mkfs(newDevice, label)
	if !ok {
		return "", "", fmt.Errorf("%w: mkfs not supported for %s", ErrInput, fsID)
	}
	if _, err := p.runSidecarStreamed(ctx, mkfsCmd); err != nil {
		return "", "", err
	}

	warn, err := p.rewriteTypeCode(ctx, newDevice, fsID)
	if err != nil {
		return "", "", err
	}
	return newDevice, warn, nil
}

// rewriteTypeCode rewrites the GPT type code for fsID's Linux-route
// partitions. sgdisk absence is a warning, never an error.
func (p *Planner) rewriteTypeCode(ctx context.Context, partitionDevice, fsID string) (string, error) {
	typecode, ok := fsdriver.GPTTypeCode(fsID)
	if !ok {
		return "", nil
	}
	if !p.Shell.HasSidecar("sgdisk") {
		return "sgdisk not found; GPT typecode not updated", nil
	}

	partNumber, ok := device.PartitionNumber(partitionDevice)
	if !ok {
		return "", fmt.Errorf("%w: invalid partition identifier: %s", ErrDevice, partitionDevice)
	}
	disk, ok := device.ParentDisk(partitionDevice)
	if !ok {
		return "", fmt.Errorf("%w: invalid disk identifier: %s", ErrDevice, partitionDevice)
	}

	if _, err := p.Shell.Sgdisk(ctx, "--typecode", fmt.Sprintf("%d:%s", partNumber, typecode), disk); err != nil {
		return "", err
	}
	return "", nil
}

// runSidecarStreamed runs cmd.Binary and emits each output line as a
// log event tagged with the binary name, matching run_sidecar_stream.
func (p *Planner) runSidecarStreamed(ctx context.Context, cmd fsdriver.Command) (string, error) {
	out, err := p.Shell.RunSidecar(ctx, cmd.Binary, cmd.Args...)
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if p.Stream != nil {
			_ = p.Stream.Log(cmd.Binary, line)
		}
	}
	return out, err
}

func (p *Planner) createPartitionTable(ctx context.Context, payload Payload) (any, error) {
	deviceIdentifier, err := payload.mustStr("deviceIdentifier")
	if err != nil {
		return nil, err
	}
	tableType, err := payload.mustStr("tableType")
	if err != nil {
		return nil, err
	}
	scheme, err := tableScheme(tableType)
	if err != nil {
		return nil, err
	}
	dev := device.Normalize(deviceIdentifier)

	if err := p.Quiescer.Quiesce(ctx, dev); err != nil {
		return nil, err
	}

	if _, err := p.Shell.Diskutil(ctx, "partitionDisk", dev, "1", scheme, "free", "%noformat%", "100%"); err != nil {
		return nil, err
	}

	_, _ = p.Shell.Diskutil(ctx, "repairDisk", "-quiet", dev)

	return map[string]any{"device": dev, "scheme": scheme}, nil
}

func (p *Planner) createPartition(ctx context.Context, payload Payload) (any, error) {
	deviceIdentifier, err := payload.mustStr("deviceIdentifier")
	if err != nil {
		return nil, err
	}
	formatType, err := payload.mustStr("formatType")
	if err != nil {
		return nil, err
	}
	label, err := payload.mustStr("label")
	if err != nil {
		return nil, err
	}
	size, err := payload.mustStr("size")
	if err != nil {
		return nil, err
	}
	dev := device.Normalize(deviceIdentifier)

	if native, ok := nativeFormatName(formatType); ok {
		if _, err := p.Shell.Diskutil(ctx, "addPartition", dev, native, label, size); err != nil {
			return nil, err
		}
		return map[string]any{"device": dev, "format": native, "size": size}, nil
	}

	fsID := strings.ToLower(formatType)
	driver, ok := fsdriver.Lookup(fsID)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported format type: %s", ErrInput, fsID)
	}

	tempLabel := throwawayLabel("OXI_TMP")
	if _, err := p.Shell.Diskutil(ctx, "addPartition", dev, "MS-DOS", tempLabel, size); err != nil {
		return nil, err
	}
	newID, found, err := p.Meta.FindPartitionByLabel(ctx, tempLabel)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: failed to locate new partition", ErrDevice)
	}
	newDevice := device.Normalize(newID)
	if err := p.Shell.DiskutilQuiet(ctx, "unmount", newDevice); err != nil {
		return nil, err
	}

	mkfsCmd, ok := driver.Mkfs(newDevice, label)
	if !ok {
		return nil, fmt.Errorf("%w: mkfs not supported for %s", ErrInput, fsID)
	}
	if _, err := p.runSidecarStreamed(ctx, mkfsCmd); err != nil {
		return nil, err
	}
	warning, err := p.rewriteTypeCode(ctx, newDevice, fsID)
	if err != nil {
		return nil, err
	}

	return map[string]any{"device": dev, "partition": newDevice, "format": fsID, "size": size, "warning": warning}, nil
}

func (p *Planner) deletePartition(ctx context.Context, payload Payload) (any, error) {
	partitionIdentifier, err := payload.mustStr("partitionIdentifier")
	if err != nil {
		return nil, err
	}
	dev := device.Normalize(partitionIdentifier)

	if err := p.Quiescer.Quiesce(ctx, dev); err != nil {
		return nil, err
	}
	if _, err := p.Shell.Diskutil(ctx, "eraseVolume", "free", "none", dev); err != nil {
		return nil, err
	}
	return map[string]any{"partition": dev}, nil
}

func (p *Planner) formatPartition(ctx context.Context, payload Payload) (any, error) {
	partitionIdentifier, err := payload.mustStr("partitionIdentifier")
	if err != nil {
		return nil, err
	}
	formatType, err := payload.mustStr("formatType")
	if err != nil {
		return nil, err
	}
	label, err := payload.mustStr("label")
	if err != nil {
		return nil, err
	}
	dev := device.Normalize(partitionIdentifier)

	if err := p.Shell.DiskutilQuiet(ctx, "unmount", "force", dev); err != nil {
		return nil, err
	}

	if native, ok := nativeFormatName(formatType); ok {
		if _, err := p.Shell.Diskutil(ctx, "eraseVolume", native, label, dev); err != nil {
			return nil, err
		}
		return map[string]any{"device": dev, "format": native}, nil
	}

	fsID := strings.ToLower(formatType)
	driver, ok := fsdriver.Lookup(fsID)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported format type: %s", ErrInput, fsID)
	}
	mkfsCmd, ok := driver.Mkfs(dev, label)
	if !ok {
		return nil, fmt.Errorf("%w: mkfs not supported for %s", ErrInput, fsID)
	}
	if _, err := p.runSidecarStreamed(ctx, mkfsCmd); err != nil {
		return nil, err
	}
	warning, err := p.rewriteTypeCode(ctx, dev, fsID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"device": dev, "format": fsID, "warning": warning}, nil
}

func (p *Planner) checkPartition(ctx context.Context, payload Payload) (any, error) {
	partitionIdentifier, err := payload.mustStr("partitionIdentifier")
	if err != nil {
		return nil, err
	}
	repair := payload.boolOr("repair", false)
	dev := device.Normalize(partitionIdentifier)

	tag, err := p.Meta.DetectTag(ctx, dev)
	if err != nil {
		return nil, err
	}

	var output string
	switch tag {
	case metadata.TagExt4:
		output, err = p.Shell.RunSidecar(ctx, "e2fsck", "-p", "-f", dev)
	case metadata.TagNTFS:
		output, err = p.Shell.RunSidecar(ctx, "ntfsfix", dev)
	case metadata.TagAPFS, metadata.TagExFAT, metadata.TagFAT32:
		if repair {
			output, err = p.Shell.Diskutil(ctx, "repairVolume", dev)
		} else {
			output, err = p.Shell.Diskutil(ctx, "verifyVolume", dev)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported filesystem for check: %s", ErrInput, tag)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"device": dev, "fs": string(tag), "output": output}, nil
}

func (p *Planner) setLabelUUID(ctx context.Context, payload Payload) (any, error) {
	partitionIdentifier, err := payload.mustStr("partitionIdentifier")
	if err != nil {
		return nil, err
	}
	label, hasLabel := payload.str("label")
	uuidValue, hasUUID := payload.str("uuid")
	if !hasLabel && !hasUUID {
		return nil, fmt.Errorf("%w: no label or UUID provided", ErrInput)
	}
	dev := device.Normalize(partitionIdentifier)

	tag, err := p.Meta.DetectTag(ctx, dev)
	if err != nil {
		return nil, err
	}

	switch tag {
	case metadata.TagAPFS:
		if hasLabel {
			if _, err := p.Shell.Diskutil(ctx, "renameVolume", dev, label); err != nil {
				return nil, err
			}
		}
		if hasUUID {
			if _, err := p.Shell.Diskutil(ctx, "apfs", "changeVolumeUUID", dev, uuidValue); err != nil {
				return nil, err
			}
		}
	case metadata.TagExt4, metadata.TagNTFS, metadata.TagBtrfs, metadata.TagXFS, metadata.TagF2FS, metadata.TagSwap:
		driver, ok := fsdriver.Lookup(string(tag))
		if !ok {
			return nil, fmt.Errorf("%w: unsupported filesystem for label/UUID: %s", ErrInput, tag)
		}
		if hasLabel {
			cmd, ok := driver.Label(dev, label)
			if !ok {
				return nil, fmt.Errorf("%w: label change not supported for %s", ErrInput, tag)
			}
			if _, err := p.runSidecarStreamed(ctx, cmd); err != nil {
				return nil, err
			}
		}
		if hasUUID {
			if err := grammar.ValidateUUID(uuidValue); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInput, err)
			}
			cmd, ok := driver.UUID(dev, uuidValue)
			if !ok {
				return nil, fmt.Errorf("%w: uuid change not supported for %s", ErrInput, tag)
			}
			if _, err := p.runSidecarStreamed(ctx, cmd); err != nil {
				return nil, err
			}
		}
	case metadata.TagExFAT, metadata.TagFAT32:
		if hasLabel {
			if _, err := p.Shell.Diskutil(ctx, "renameVolume", dev, label); err != nil {
				return nil, err
			}
		}
		if hasUUID {
			return nil, fmt.Errorf("%w: FAT/ExFAT UUID change is not supported", ErrInput)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported filesystem for label/UUID: %s", ErrInput, tag)
	}

	return map[string]any{"device": dev, "label": label, "uuid": uuidValue, "fs": string(tag)}, nil
}

func (p *Planner) getJournal(ctx context.Context, _ Payload) (any, error) {
	rec, ok, err := p.Journal.Read()
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"journal": nil}, nil
	}
	return map[string]any{"journal": rec}, nil
}

func (p *Planner) clearJournal(ctx context.Context, _ Payload) (any, error) {
	if err := p.Journal.Clear(); err != nil {
		return nil, err
	}
	return map[string]any{"cleared": true}, nil
}


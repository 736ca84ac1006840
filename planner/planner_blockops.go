package planner

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/oliverquick/oxidisk/blockmover"
	"github.com/oliverquick/oxidisk/device"
	"github.com/oliverquick/oxidisk/fsdriver"
	"github.com/oliverquick/oxidisk/grammar"
	"github.com/oliverquick/oxidisk/journal"
	"github.com/oliverquick/oxidisk/metadata"
)

// sgdiskRewrite deletes and recreates partition number n on disk
// between startSector and endSector (inclusive), the shared primitive
// behind resize and move's partition-table rewrite step.
func (p *Planner) sgdiskRewrite(ctx context.Context, disk string, n uint64, startSector, endSector uint64) error {
	_, err := p.Shell.Sgdisk(ctx,
		"--delete", strconv.FormatUint(n, 10),
		"--new", fmt.Sprintf("%d:%d:%d", n, startSector, endSector),
		disk)
	return err
}

func (p *Planner) resizePartition(ctx context.Context, payload Payload) (any, error) {
	partitionIdentifier, err := payload.mustStr("partitionIdentifier")
	if err != nil {
		return nil, err
	}
	newSizeStr, err := payload.mustStr("newSize")
	if err != nil {
		return nil, err
	}
	dev := device.Normalize(partitionIdentifier)

	newSize, err := grammar.ParseSize(newSizeStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, err)
	}
	newSize = grammar.AlignDownMiB(newSize)

	info, err := p.Meta.PartitionInfo(ctx, dev)
	if err != nil {
		return nil, err
	}

	currentEnd := info.Offset + info.Size
	newEnd := info.Offset + newSize
	if newEnd > info.MaxEnd {
		return nil, fmt.Errorf("%w: resize exceeds available space", ErrSafetyGate)
	}

	tag := info.Tag()

	p.progress("resize", 0, 100, "starting resize")

	switch tag {
	case metadata.TagAPFS, metadata.TagHFSPlus:
		if _, err := p.Shell.Diskutil(ctx, "apfs", "resizeContainer", dev, humanMiB(newSize)); err != nil {
			if _, err2 := p.Shell.Diskutil(ctx, "resizeVolume", dev, humanMiB(newSize)); err2 != nil {
				return nil, err
			}
		}
		p.progress("resize", 100, 100, "resize complete")
		return map[string]any{"device": dev, "newSize": newSize}, nil

	case metadata.TagExFAT, metadata.TagFAT32:
		return nil, fmt.Errorf("%w: resize not supported yet for %s", ErrInput, tag)

	case metadata.TagExt4, metadata.TagNTFS:
		if !p.Shell.HasSidecar("sgdisk") {
			return nil, fmt.Errorf("%w: sgdisk sidecar required for resize", ErrEnvironment)
		}
		partNumber, ok := device.PartitionNumber(dev)
		if !ok {
			return nil, fmt.Errorf("%w: invalid partition identifier: %s", ErrDevice, dev)
		}
		disk, ok := device.ParentDisk(dev)
		if !ok {
			return nil, fmt.Errorf("%w: invalid disk identifier: %s", ErrDevice, dev)
		}
		startSector := info.Offset / info.BlockSize
		endSector := newEnd/info.BlockSize - 1

		if newEnd < currentEnd {
			p.progress("resize", 10, 100, "shrinking filesystem")
			if err := p.resizeFilesystem(ctx, tag, dev, newSize); err != nil {
				return nil, err
			}
			p.progress("resize", 60, 100, "rewriting partition table")
			if err := p.sgdiskRewrite(ctx, disk, partNumber, startSector, endSector); err != nil {
				return nil, err
			}
		} else {
			p.progress("resize", 40, 100, "rewriting partition table")
			if err := p.sgdiskRewrite(ctx, disk, partNumber, startSector, endSector); err != nil {
				return nil, err
			}
			p.progress("resize", 70, 100, "growing filesystem")
			if err := p.resizeFilesystem(ctx, tag, dev, 0); err != nil {
				return nil, err
			}
		}
		p.progress("resize", 100, 100, "resize complete")
		return map[string]any{"device": dev, "newSize": newSize}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported filesystem for resize: %s", ErrInput, tag)
	}
}

// resizeFilesystem resizes the filesystem in place. A zero target
// means "grow to fill the partition", matching resize2fs/ntfsresize's
// no-size-argument behavior.
func (p *Planner) resizeFilesystem(ctx context.Context, tag metadata.Tag, dev string, target uint64) error {
	switch tag {
	case metadata.TagExt4:
		args := []string{dev}
		if target > 0 {
			args = []string{dev, humanMiB(target)}
		}
		_, err := p.runSidecarStreamed(ctx, fsdriver.Command{Binary: "resize2fs", Args: args})
		return err
	case metadata.TagNTFS:
		args := []string{dev}
		if target > 0 {
			args = []string{"-s", humanMiB(target), dev}
		}
		_, err := p.runSidecarStreamed(ctx, fsdriver.Command{Binary: "ntfsresize", Args: args})
		return err
	default:
		return fmt.Errorf("%w: resize not supported for %s", ErrInput, tag)
	}
}

func humanMiB(bytes uint64) string {
	return strconv.FormatUint(bytes/1024/1024, 10) + "M"
}

func (p *Planner) progress(phase string, percent, total uint64, message string) {
	if p.Stream == nil {
		return
	}
	_ = p.Stream.Progress(phase, percent, total, message, 0, 0)
}

func (p *Planner) movePartition(ctx context.Context, payload Payload) (any, error) {
	partitionIdentifier, err := payload.mustStr("partitionIdentifier")
	if err != nil {
		return nil, err
	}
	newStartStr, err := payload.mustStr("newStart")
	if err != nil {
		return nil, err
	}
	dev := device.Normalize(partitionIdentifier)

	if !p.Shell.HasSidecar("sgdisk") {
		return nil, fmt.Errorf("%w: sgdisk sidecar required for move", ErrEnvironment)
	}

	newStart, err := grammar.ParseSize(newStartStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, err)
	}
	newStart = grammar.AlignDownMiB(newStart)

	info, err := p.Meta.PartitionInfo(ctx, dev)
	if err != nil {
		return nil, err
	}

	if newStart < info.MinStart {
		return nil, fmt.Errorf("%w: move target is below the minimum legal start offset", ErrSafetyGate)
	}
	if newStart >= info.MaxEnd {
		return nil, fmt.Errorf("%w: move target is at or beyond the maximum legal end offset", ErrSafetyGate)
	}

	oldStart, oldEnd := info.Offset, info.Offset+info.Size
	newEnd := newStart + info.Size
	if newStart != oldStart && newStart < oldEnd && newEnd > oldStart {
		return nil, fmt.Errorf("%w: move would overlap existing data", ErrSafetyGate)
	}

	disk, ok := device.ParentDisk(dev)
	if !ok {
		return nil, fmt.Errorf("%w: invalid disk identifier: %s", ErrDevice, dev)
	}
	partNumber, ok := device.PartitionNumber(dev)
	if !ok {
		return nil, fmt.Errorf("%w: invalid partition identifier: %s", ErrDevice, dev)
	}

	rec := journal.Record{
		Operation: "move_partition",
		Device:    dev,
		Disk:      disk,
		SrcOffset: oldStart,
		DstOffset: newStart,
		Size:      info.Size,
		BlockSize: info.BlockSize,
		UpdatedAt: p.Clock().UTC().Format(time.RFC3339),
	}
	if err := p.Journal.Write(rec); err != nil {
		return nil, err
	}

	onProgress := blockmover.OnStreamProgress(p.Stream, "move", "moving partition data")
	if err := blockmover.SameDiskMove(disk, oldStart, newStart, info.Size, p.Journal, rec, onProgress); err != nil {
		return nil, fmt.Errorf("move: %w", err)
	}

	startSector := newStart / info.BlockSize
	endSector := newEnd/info.BlockSize - 1
	if err := p.sgdiskRewrite(ctx, disk, partNumber, startSector, endSector); err != nil {
		return nil, fmt.Errorf("move: partition table rewrite failed, journal preserved: %w", err)
	}

	if err := p.Journal.Clear(); err != nil {
		return nil, err
	}
	return map[string]any{"device": dev, "newStart": newStart}, nil
}

func (p *Planner) copyPartition(ctx context.Context, payload Payload) (any, error) {
	sourcePartition, err := payload.mustStr("sourcePartition")
	if err != nil {
		return nil, err
	}
	targetDevice, err := payload.mustStr("targetDevice")
	if err != nil {
		return nil, err
	}
	srcDev := device.Normalize(sourcePartition)
	targetDisk := device.Normalize(targetDevice)

	srcInfo, err := p.Meta.PartitionInfo(ctx, srcDev)
	if err != nil {
		return nil, err
	}
	srcTag := srcInfo.Tag()
	switch srcTag {
	case metadata.TagExt4, metadata.TagNTFS, metadata.TagExFAT, metadata.TagFAT32:
	default:
		return nil, fmt.Errorf("%w: copy not supported for source filesystem: %s", ErrInput, srcTag)
	}

	if err := p.Quiescer.Quiesce(ctx, srcDev); err != nil {
		return nil, err
	}
	if err := p.Quiescer.Quiesce(ctx, targetDisk); err != nil {
		return nil, err
	}

	sizeMiB := uint64(math.Ceil(float64(srcInfo.Size) / (1024 * 1024)))
	sizeStr := strconv.FormatUint(sizeMiB, 10) + "M"
	tempLabel := throwawayLabel("OXI_COPY")
	if _, err := p.Shell.Diskutil(ctx, "addPartition", targetDisk, "MS-DOS", tempLabel, sizeStr); err != nil {
		return nil, err
	}
	newID, found, err := p.Meta.FindPartitionByLabel(ctx, tempLabel)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: failed to locate new partition", ErrDevice)
	}
	targetPartition := device.Normalize(newID)
	if err := p.Shell.DiskutilQuiet(ctx, "unmount", targetPartition); err != nil {
		return nil, err
	}
	targetInfo, err := p.Meta.PartitionInfo(ctx, targetPartition)
	if err != nil {
		return nil, err
	}

	onProgress := blockmover.OnStreamProgress(p.Stream, "copy", "copying partition data")
	srcParentDisk, srcIsPartition := device.ParentDisk(srcDev)
	if srcIsPartition && srcParentDisk == targetDisk {
		if err := blockmover.SameDiskMove(targetDisk, srcInfo.Offset, targetInfo.Offset, srcInfo.Size, nil, journal.Record{}, onProgress); err != nil {
			return nil, fmt.Errorf("copy: %w", err)
		}
	} else {
		if err := blockmover.CrossDeviceCopy(device.Raw(srcDev), device.Raw(targetPartition), srcInfo.Size, onProgress); err != nil {
			return nil, fmt.Errorf("copy: %w", err)
		}
	}

	fsID := string(srcTag)
	warning, err := p.rewriteTypeCode(ctx, targetPartition, fsID)
	if err != nil {
		return nil, err
	}

	var identifierWarning string
	switch srcTag {
	case metadata.TagExt4:
		if _, err := p.runSidecarStreamed(ctx, fsdriver.Command{Binary: "tune2fs", Args: []string{"-U", "random", targetPartition}}); err != nil {
			identifierWarning = fmt.Sprintf("identifier refresh failed: %v", err)
		}
	case metadata.TagNTFS:
		if _, err := p.runSidecarStreamed(ctx, fsdriver.Command{Binary: "ntfslabel", Args: []string{"--new-serial", targetPartition}}); err != nil {
			identifierWarning = fmt.Sprintf("identifier refresh failed: %v", err)
		}
	case metadata.TagExFAT, metadata.TagFAT32:
		identifierWarning = "identifier refresh not supported for FAT/ExFAT"
	}

	return map[string]any{
		"sourcePartition":   srcDev,
		"targetPartition":   targetPartition,
		"typecodeWarning":   warning,
		"identifierWarning": identifierWarning,
	}, nil
}

func (p *Planner) flashImage(ctx context.Context, payload Payload) (any, error) {
	sourcePath, err := payload.mustStr("sourcePath")
	if err != nil {
		return nil, err
	}
	targetDevice, err := payload.mustStr("targetDevice")
	if err != nil {
		return nil, err
	}
	verify := payload.boolOr("verify", true)
	dev := device.Normalize(targetDevice)

	disk := dev
	if parent, ok := device.ParentDisk(dev); ok {
		disk = parent
	}

	srcStat, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: source image: %v", ErrInput, err)
	}
	if diskSize, known, err := p.Meta.DiskSize(ctx, disk); err == nil && known {
		if uint64(srcStat.Size()) > diskSize {
			return nil, fmt.Errorf("%w: source image (%d bytes) exceeds target disk size (%d bytes)",
				ErrSafetyGate, srcStat.Size(), diskSize)
		}
	}

	if err := p.Quiescer.Quiesce(ctx, disk); err != nil {
		return nil, err
	}

	rawTarget := device.Raw(disk)
	onProgress := blockmover.OnStreamProgress(p.Stream, "flash", "flashing image")
	result, err := blockmover.FlashImage(sourcePath, rawTarget, onProgress)
	if err != nil {
		return nil, err
	}

	details := map[string]any{
		"bytesWritten": result.BytesWritten,
		"sourceHash":   result.SourceHash,
		"verify":       verify,
	}
	if verify {
		verifiedHash, err := blockmover.VerifyHash(rawTarget, result.BytesWritten)
		if err != nil {
			return nil, err
		}
		details["verifiedHash"] = verifiedHash
		if verifiedHash != result.SourceHash {
			return nil, fmt.Errorf("%w: verification failed: checksum mismatch", ErrIntegrity)
		}
		details["verified"] = true
	}
	return details, nil
}

func (p *Planner) forceUnmount(ctx context.Context, payload Payload) (any, error) {
	var identifier string
	if v, ok := payload.str("deviceIdentifier"); ok && v != "" {
		identifier = v
	} else if v, ok := payload.str("partitionIdentifier"); ok && v != "" {
		identifier = v
	} else {
		return nil, fmt.Errorf("%w: missing field: deviceIdentifier or partitionIdentifier", ErrInput)
	}
	dev := device.Normalize(identifier)

	holders, err := p.Quiescer.ForceUnmount(ctx, dev)
	if err != nil {
		return nil, err
	}
	busy := make([]map[string]any, 0, len(holders))
	for _, h := range holders {
		busy = append(busy, map[string]any{"pid": h.PID, "command": h.Command})
	}
	return map[string]any{"device": dev, "busyProcesses": busy}, nil
}

package planner

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/oliverquick/oxidisk/device"
	"github.com/oliverquick/oxidisk/fsdriver"
	"github.com/oliverquick/oxidisk/grammar"
	"github.com/oliverquick/oxidisk/metadata"
)

// BatteryStatus is the subset of `pmset -g batt` this engine consults.
type BatteryStatus struct {
	Present  bool
	OnAC     bool
	Percent  int
	HasValue bool
}

var batteryPercentPattern = regexp.MustCompile(`(\d+)%`)

func parseBatteryStatus(out string) BatteryStatus {
	status := BatteryStatus{Present: strings.Contains(out, "InternalBattery")}
	status.OnAC = strings.Contains(out, "AC Power") || strings.Contains(out, "'AC Power'")
	if m := batteryPercentPattern.FindStringSubmatch(out); m != nil {
		if pct, err := strconv.Atoi(m[1]); err == nil {
			status.Percent, status.HasValue = pct, true
		}
	}
	return status
}

func (p *Planner) readBattery(ctx context.Context) (BatteryStatus, bool) {
	if !p.Shell.HasSidecar("pmset") {
		return BatteryStatus{}, false
	}
	out, err := p.Shell.RunSidecar(ctx, "pmset", "-g", "batt")
	if err != nil {
		return BatteryStatus{}, false
	}
	return parseBatteryStatus(out), true
}

func (p *Planner) requiredSidecars(operation, formatType string) []string {
	switch operation {
	case "wipe_device", "create_partition", "format_partition":
		driver, ok := fsdriver.Lookup(strings.ToLower(formatType))
		if !ok {
			return nil
		}
		cmd, _ := driver.Mkfs("", "")
		if cmd.Binary == "" {
			return nil
		}
		return []string{cmd.Binary}
	case "resize_partition":
		switch strings.ToLower(formatType) {
		case "ext4":
			return []string{"sgdisk", "resize2fs"}
		case "ntfs":
			return []string{"sgdisk", "ntfsresize"}
		}
		return nil
	case "move_partition":
		return []string{"sgdisk"}
	default:
		return nil
	}
}

func (p *Planner) preflightCheck(ctx context.Context, payload Payload) (any, error) {
	operation, err := payload.mustStr("operation")
	if err != nil {
		return nil, err
	}
	formatType, _ := payload.str("formatType")

	var identifier string
	if v, ok := payload.str("deviceIdentifier"); ok && v != "" {
		identifier = v
	} else if v, ok := payload.str("partitionIdentifier"); ok && v != "" {
		identifier = v
	} else {
		return nil, fmt.Errorf("%w: missing field: deviceIdentifier or partitionIdentifier", ErrInput)
	}
	dev := device.Normalize(identifier)

	var blockers, warnings, sidecarsReport []string
	var busyProcesses []map[string]any
	var battery map[string]any
	var fsCheck *string

	if status, ok := p.readBattery(ctx); ok {
		battery = map[string]any{"present": status.Present, "onAC": status.OnAC, "percent": status.Percent}
		if status.Present && !status.OnAC && status.HasValue && status.Percent < 30 {
			blockers = append(blockers, "battery charge below 30% and not on AC power")
		}
	}

	for _, name := range p.requiredSidecars(operation, formatType) {
		if p.Shell.HasSidecar(name) {
			sidecarsReport = append(sidecarsReport, name)
		} else {
			blockers = append(blockers, fmt.Sprintf("required sidecar not found: %s", name))
		}
	}

	info, infoErr := p.Meta.PartitionInfo(ctx, dev)
	if infoErr == nil && info.MountPoint != "" {
		holders, _ := p.Quiescer.FindHolders(ctx, info.MountPoint)
		if len(holders) > 0 {
			blockers = append(blockers, "volume is busy: open file handles present")
			for _, h := range holders {
				busyProcesses = append(busyProcesses, map[string]any{"pid": h.PID, "command": h.Command})
			}
		}
	}

	if infoErr == nil && (operation == "resize_partition" || operation == "move_partition") {
		if problem := p.readOnlyFsckWarning(ctx, info.Tag(), dev); problem != "" {
			warnings = append(warnings, problem)
			fsCheck = &problem
		}
	}

	if newSizeStr, ok := payload.str("newSize"); ok && newSizeStr != "" && infoErr == nil && info.HasUsedSpace {
		newBytes, parseErr := grammar.ParseSize(newSizeStr)
		if parseErr == nil {
			minRequired := uint64(math.Ceil(float64(info.UsedSpace) * 1.05))
			if newBytes < minRequired {
				blockers = append(blockers, fmt.Sprintf("requested size %s is smaller than the minimum required %s",
					humanize.Bytes(newBytes), humanize.Bytes(minRequired)))
			}
		}
	}

	if infoErr == nil && metadata.IsProtected(info.VolumeRoles) {
		warnings = append(warnings, "device participates in a protected system role set")
	}

	return map[string]any{
		"ok":            len(blockers) == 0,
		"blockers":      blockers,
		"warnings":      warnings,
		"busyProcesses": busyProcesses,
		"battery":       battery,
		"sidecars":      sidecarsReport,
		"fsCheck":       fsCheck,
	}, nil
}

// readOnlyFsckWarning runs a non-mutating filesystem check for ext4/
// ntfs and reports any problem text, or "" if clean/unsupported.
func (p *Planner) readOnlyFsckWarning(ctx context.Context, tag metadata.Tag, dev string) string {
	switch tag {
	case metadata.TagExt4:
		if !p.Shell.HasSidecar("e2fsck") {
			return ""
		}
		if _, err := p.Shell.RunSidecar(ctx, "e2fsck", "-n", dev); err != nil {
			return fmt.Sprintf("filesystem check reported issues: %v", err)
		}
	case metadata.TagNTFS:
		if !p.Shell.HasSidecar("ntfsresize") {
			return ""
		}
		if _, err := p.Shell.RunSidecar(ctx, "ntfsresize", "--info", "--no-action", dev); err != nil {
			return fmt.Sprintf("filesystem check reported issues: %v", err)
		}
	}
	return ""
}

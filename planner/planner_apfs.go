package planner

import (
	"context"
	"fmt"

	"github.com/oliverquick/oxidisk/device"
)

func (p *Planner) apfsListVolumes(ctx context.Context, payload Payload) (any, error) {
	containerIdentifier, err := payload.mustStr("containerIdentifier")
	if err != nil {
		return nil, err
	}
	container, found, err := p.Meta.FindContainer(ctx, containerIdentifier)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: container not found: %s", ErrDevice, containerIdentifier)
	}

	volumes := make([]map[string]any, 0, len(container.Volumes))
	for _, v := range container.Volumes {
		volumes = append(volumes, map[string]any{
			"id": v.ID, "name": v.Name, "roles": v.Roles,
			"size": v.Size, "used": v.Used, "mountPoint": v.MountPoint,
		})
	}
	return map[string]any{
		"container": container.ID,
		"uuid":      container.UUID,
		"capacity":  container.Capacity,
		"free":      container.Free,
		"used":      container.Used,
		"volumes":   volumes,
	}, nil
}

func (p *Planner) apfsAddVolume(ctx context.Context, payload Payload) (any, error) {
	containerIdentifier, err := payload.mustStr("containerIdentifier")
	if err != nil {
		return nil, err
	}
	name, err := payload.mustStr("name")
	if err != nil {
		return nil, err
	}
	container := device.Normalize(containerIdentifier)

	args := []string{"addVolume", container, "APFS", name}
	if role, ok := payload.str("role"); ok && role != "" {
		args = append(args, "-role", role)
	}
	if _, err := p.Shell.Diskutil(ctx, append([]string{"apfs"}, args...)...); err != nil {
		return nil, err
	}

	newID, found, err := p.Meta.FindPartitionByLabel(ctx, name)
	if err != nil || !found {
		return map[string]any{"container": container, "name": name}, nil
	}
	return map[string]any{"container": container, "name": name, "volume": device.Normalize(newID)}, nil
}

func (p *Planner) apfsDeleteVolume(ctx context.Context, payload Payload) (any, error) {
	volumeIdentifier, err := payload.mustStr("volumeIdentifier")
	if err != nil {
		return nil, err
	}
	volume := device.Normalize(volumeIdentifier)

	if err := p.Quiescer.Quiesce(ctx, volume); err != nil {
		return nil, err
	}
	if _, err := p.Shell.Diskutil(ctx, "apfs", "deleteVolume", volume); err != nil {
		return nil, err
	}
	return map[string]any{"volume": volume}, nil
}

// Package device normalizes and decomposes macOS block device
// identifiers (e.g. "disk2s3", "/dev/disk2s3", "/dev/rdisk2").
//
// Every function here is pure string manipulation; nothing touches the
// filesystem or shells out. Callers pass normalized identifiers on to
// diskshell and blockmover, per the invariant that any value reaching
// block-level code has already been normalized (spec §3).
package device

import (
	"strconv"
	"strings"
)

const devPrefix = "/dev/"

// Normalize converts a bare identifier ("disk2s3") or an already
// absolute one ("/dev/disk2s3") to absolute form. Idempotent.
func Normalize(identifier string) string {
	if strings.HasPrefix(identifier, devPrefix) {
		return identifier
	}
	return devPrefix + identifier
}

// Raw converts an absolute device path to its raw (unbuffered) form,
// e.g. "/dev/disk2s3" -> "/dev/rdisk2s3". Idempotent: a path that is
// already raw is returned unchanged.
func Raw(identifier string) string {
	abs := Normalize(identifier)
	rest := strings.TrimPrefix(abs, devPrefix)
	if strings.HasPrefix(rest, "r") {
		return abs
	}
	return devPrefix + "r" + rest
}

// PartitionNumber returns the partition number for a partition device
// identifier (e.g. "/dev/disk2s3" -> 3). It returns ok=false for a
// whole-disk identifier such as "/dev/disk2", which has no trailing
// "s<N>" segment.
func PartitionNumber(identifier string) (number uint64, ok bool) {
	cleaned := strings.TrimPrefix(Normalize(identifier), devPrefix)
	idx := strings.LastIndex(cleaned, "s")
	if idx < 0 || idx == len(cleaned)-1 {
		return 0, false
	}
	n, err := strconv.ParseUint(cleaned[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParentDisk returns the whole-disk identifier a partition belongs to
// (e.g. "/dev/disk2s3" -> "/dev/disk2"). It returns ok=false for an
// identifier that is already a whole disk.
func ParentDisk(identifier string) (parent string, ok bool) {
	cleaned := strings.TrimPrefix(Normalize(identifier), devPrefix)
	idx := strings.LastIndex(cleaned, "s")
	if idx < 0 || idx == len(cleaned)-1 {
		return "", false
	}
	if _, err := strconv.ParseUint(cleaned[idx+1:], 10, 64); err != nil {
		return "", false
	}
	return devPrefix + cleaned[:idx], true
}

// Package blockmover implements the three block-copy modes the
// planner composes operations from: a direction-aware same-disk move,
// a cross-device streaming copy, and a flash-with-hash write with an
// optional verify re-read. All three chunk at 4 MiB and report
// progress at 50 MiB cumulative steps.
//
// Grounded on copy_blocks/copy_partition_blocks in the original
// helper; the direction rule (back-to-front when the destination sits
// above the source, front-to-back otherwise) is carried over exactly,
// since reversing it on overlapping ranges corrupts data.
package blockmover

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/oliverquick/oxidisk/eventstream"
	"github.com/oliverquick/oxidisk/journal"
)

const (
	chunkSize    = 4 * 1024 * 1024
	progressStep = 50 * 1024 * 1024
)

// ProgressFunc is called after each chunk that crosses a progress step
// boundary, or on the final chunk.
type ProgressFunc func(copied, total uint64)

// SameDiskMove copies size bytes from srcOffset to dstOffset on the
// single whole-disk path disk, opened twice (one reader, one writer).
// Direction rule: if dstOffset > srcOffset, chunks are copied
// highest-offset-first to avoid the writer clobbering data the reader
// hasn't consumed yet; otherwise lowest-offset-first.
//
// If j is non-nil, rec.LastCopied is advanced and rewritten at each
// progress step — the only journaled copy mode.
func SameDiskMove(disk string, srcOffset, dstOffset, size uint64, j *journal.Journal, rec journal.Record, onProgress ProgressFunc) error {
	reader, err := os.OpenFile(disk, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer reader.Close()

	writer, err := os.OpenFile(disk, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer writer.Close()

	buffer := make([]byte, chunkSize)
	var copied uint64
	nextProgress := uint64(progressStep)

	advance := func(n uint64) error {
		copied += n
		if copied >= nextProgress || copied == size {
			if onProgress != nil {
				onProgress(copied, size)
			}
			for nextProgress <= copied {
				nextProgress += progressStep
			}
			if j != nil {
				rec.LastCopied = copied
				if err := j.Write(rec); err != nil {
					return fmt.Errorf("update journal: %w", err)
				}
			}
		}
		return nil
	}

	if dstOffset > srcOffset {
		var position uint64 = size
		for position > 0 {
			chunk := uint64(chunkSize)
			if position < chunk {
				chunk = position
			}
			position -= chunk
			if err := copyChunk(reader, writer, srcOffset+position, dstOffset+position, buffer[:chunk]); err != nil {
				return err
			}
			if err := advance(chunk); err != nil {
				return err
			}
		}
	} else {
		var position uint64
		for position < size {
			chunk := uint64(chunkSize)
			if size-position < chunk {
				chunk = size - position
			}
			if err := copyChunk(reader, writer, srcOffset+position, dstOffset+position, buffer[:chunk]); err != nil {
				return err
			}
			position += chunk
			if err := advance(chunk); err != nil {
				return err
			}
		}
	}

	return writer.Sync()
}

func copyChunk(reader, writer *os.File, readPos, writePos uint64, buf []byte) error {
	if _, err := reader.Seek(int64(readPos), io.SeekStart); err != nil {
		return fmt.Errorf("seek source: %w", err)
	}
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if _, err := writer.Seek(int64(writePos), io.SeekStart); err != nil {
		return fmt.Errorf("seek target: %w", err)
	}
	if _, err := writer.Write(buf); err != nil {
		return fmt.Errorf("write target: %w", err)
	}
	return nil
}

// CrossDeviceCopy streams size bytes from sourcePath to targetPath,
// sequentially, chunk size 4 MiB. Used for copy_partition across
// disks, where there is no overlap hazard.
func CrossDeviceCopy(sourcePath, targetPath string, size uint64, onProgress ProgressFunc) error {
	src, err := os.OpenFile(sourcePath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(targetPath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer dst.Close()

	buffer := make([]byte, chunkSize)
	var copied uint64
	nextProgress := uint64(progressStep)

	remaining := size
	for remaining > 0 {
		chunk := uint64(chunkSize)
		if remaining < chunk {
			chunk = remaining
		}
		if _, err := io.ReadFull(src, buffer[:chunk]); err != nil {
			return fmt.Errorf("read source: %w", err)
		}
		if _, err := dst.Write(buffer[:chunk]); err != nil {
			return fmt.Errorf("write target: %w", err)
		}
		remaining -= chunk
		copied += chunk
		if copied >= nextProgress || remaining == 0 {
			if onProgress != nil {
				onProgress(copied, size)
			}
			for nextProgress <= copied {
				nextProgress += progressStep
			}
		}
	}

	return dst.Sync()
}

// FlashResult is the outcome of a FlashImage call.
type FlashResult struct {
	BytesWritten uint64
	SourceHash   string
}

// FlashImage streams sourcePath to the raw targetDevice, hashing every
// chunk written with SHA-256, and returns the written byte count and
// the hex-encoded source digest.
func FlashImage(sourcePath, targetDevice string, onProgress ProgressFunc) (FlashResult, error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		return FlashResult{}, fmt.Errorf("open source image: %w", err)
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return FlashResult{}, fmt.Errorf("stat source image: %w", err)
	}
	size := uint64(stat.Size())

	dst, err := os.OpenFile(targetDevice, os.O_WRONLY, 0)
	if err != nil {
		return FlashResult{}, fmt.Errorf("open target device: %w", err)
	}
	defer dst.Close()

	hasher := sha256.New()
	buffer := make([]byte, chunkSize)
	var copied uint64
	nextProgress := uint64(progressStep)

	for {
		n, readErr := src.Read(buffer)
		if n > 0 {
			chunk := buffer[:n]
			if _, err := dst.Write(chunk); err != nil {
				return FlashResult{}, fmt.Errorf("write target device: %w", err)
			}
			hasher.Write(chunk)
			copied += uint64(n)
			if copied >= nextProgress || copied == size || readErr == io.EOF {
				if onProgress != nil {
					onProgress(copied, size)
				}
				for nextProgress <= copied {
					nextProgress += progressStep
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return FlashResult{}, fmt.Errorf("read source image: %w", readErr)
		}
	}

	if err := dst.Sync(); err != nil {
		return FlashResult{}, fmt.Errorf("sync target device: %w", err)
	}

	return FlashResult{BytesWritten: copied, SourceHash: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// VerifyHash re-reads exactly size bytes from devicePath and returns
// its hex-encoded SHA-256 digest, for comparison against a flash's
// SourceHash.
func VerifyHash(devicePath string, size uint64) (string, error) {
	f, err := os.Open(devicePath)
	if err != nil {
		return "", fmt.Errorf("open device for verify: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.CopyN(hasher, f, int64(size)); err != nil {
		return "", fmt.Errorf("read device for verify: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// OnStreamProgress adapts an eventstream.Stream into a ProgressFunc
// emitting a "phase" progress event.
func OnStreamProgress(s *eventstream.Stream, phase, message string) ProgressFunc {
	return func(copied, total uint64) {
		_ = s.Progress(phase, eventstream.PercentOf(copied, total), 100, message, copied, total)
	}
}

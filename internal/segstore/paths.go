package segstore

import (
	"fmt"
	"path/filepath"
)

// Segment files are named "<segment_id>.log" (decimal, no padding);
// sidecars add .trimmed / .pending / .copy.

func LogFileName(id uint64) string     { return fmt.Sprintf("%d.log", id) }
func TrimmedFileName(id uint64) string { return LogFileName(id) + ".trimmed" }
func PendingFileName(id uint64) string { return LogFileName(id) + ".pending" }
func CopyFileName(id uint64) string    { return LogFileName(id) + ".copy" }

func LogPath(dir string, id uint64) string     { return filepath.Join(dir, LogFileName(id)) }
func TrimmedPath(dir string, id uint64) string { return filepath.Join(dir, TrimmedFileName(id)) }
func PendingPath(dir string, id uint64) string { return filepath.Join(dir, PendingFileName(id)) }
func CopyPath(dir string, id uint64) string    { return filepath.Join(dir, CopyFileName(id)) }

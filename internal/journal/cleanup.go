package journal

import (
	"fmt"
	"os"
	"time"
)

// Config controls retention.
type Config struct {
	RetentionDays int
	FilePrefix    string
}

// CleanupStats tracks cleanup operation results
type CleanupStats struct {
	FilesRemoved  int
	BytesFreed    int64
	OldestRemoved time.Time
	NewestRemoved time.Time
}

// Cleanup removes journal files last modified before the retention period.
func Cleanup(dir string, cfg Config, now time.Time) (CleanupStats, error) {
	var stats CleanupStats
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = DefaultPrefix
	}
	if cfg.RetentionDays <= 0 {
		return stats, nil
	}

	all, err := files(dir, cfg.FilePrefix)
	if err != nil {
		return stats, err
	}

	cutoff := now.AddDate(0, 0, -cfg.RetentionDays)
	for _, path := range all {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return stats, fmt.Errorf("remove %s: %w", path, err)
		}
		stats.record(info)
	}

	return stats, nil
}

func (s *CleanupStats) record(info os.FileInfo) {
	mod := info.ModTime()
	if s.FilesRemoved == 0 || mod.Before(s.OldestRemoved) {
		s.OldestRemoved = mod
	}
	if s.FilesRemoved == 0 || mod.After(s.NewestRemoved) {
		s.NewestRemoved = mod
	}
	s.FilesRemoved++
	s.BytesFreed += info.Size()
}

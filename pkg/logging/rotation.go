package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig configures size/age-based log file rotation.
type RotationConfig struct {
	// Filename is the file to write logs to.
	Filename string

	// MaxSizeMB is the maximum size in megabytes before rotation (0 = no limit).
	MaxSizeMB int64

	// MaxAgeDays is the maximum age in days before rotation (0 = no limit).
	MaxAgeDays int

	// MaxBackups is the maximum number of old log files to retain (0 = retain all).
	MaxBackups int

	// Compress gzips rotated-out log files.
	Compress bool
}

// Rotator is an io.Writer that transparently rotates the underlying file.
type Rotator struct {
	mu sync.Mutex

	config   *RotationConfig
	file     *os.File
	size     int64
	openTime time.Time
}

// NewRotator creates a Rotator and opens its initial file.
func NewRotator(config *RotationConfig) (*Rotator, error) {
	if config == nil {
		return nil, fmt.Errorf("rotation config is required")
	}
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	r := &Rotator{config: config}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

// Write implements io.Writer, rotating first if the write would exceed the
// configured size or age limit.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shouldRotate(int64(len(p))) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close closes the current log file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes the current log file to disk.
func (r *Rotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}

// ForceRotate rotates the log file immediately, regardless of size or age.
func (r *Rotator) ForceRotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotate()
}

func (r *Rotator) shouldRotate(writeSize int64) bool {
	if r.config.MaxSizeMB > 0 {
		maxBytes := r.config.MaxSizeMB * 1024 * 1024
		if r.size+writeSize >= maxBytes {
			return true
		}
	}
	if r.config.MaxAgeDays > 0 {
		maxAge := time.Duration(r.config.MaxAgeDays) * 24 * time.Hour
		if time.Since(r.openTime) >= maxAge {
			return true
		}
	}
	return false
}

func (r *Rotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		r.file = nil
	}

	backupName := r.backupFilename(time.Now().UTC())
	if err := os.Rename(r.config.Filename, backupName); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to rename log file: %w", err)
		}
	} else if r.config.Compress {
		if err := r.compressFile(backupName); err != nil {
			fmt.Fprintf(os.Stderr, "failed to compress log file %s: %v\n", backupName, err)
		}
	}

	if err := r.cleanupOldBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to clean up old backups: %v\n", err)
	}

	return r.openFile()
}

func (r *Rotator) openFile() error {
	dir := filepath.Dir(r.config.Filename)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(r.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	r.file = file
	r.openTime = time.Now()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	r.size = info.Size()
	return nil
}

func (r *Rotator) backupFilename(ts time.Time) string {
	dir := filepath.Dir(r.config.Filename)
	filename := filepath.Base(r.config.Filename)
	ext := filepath.Ext(filename)
	prefix := filename[:len(filename)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, ts.Format("2006-01-02T15-04-05"), ext))
}

func (r *Rotator) compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		_ = gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}

func (r *Rotator) cleanupOldBackups() error {
	backups, err := r.backupFiles()
	if err != nil {
		return err
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime().Before(backups[j].ModTime())
	})

	var toDelete []string
	if r.config.MaxBackups > 0 && len(backups) > r.config.MaxBackups {
		excess := len(backups) - r.config.MaxBackups
		for i := 0; i < excess; i++ {
			toDelete = append(toDelete, backups[i].Name())
		}
		backups = backups[excess:]
	}
	if r.config.MaxAgeDays > 0 {
		cutoff := time.Now().Add(-time.Duration(r.config.MaxAgeDays) * 24 * time.Hour)
		for _, b := range backups {
			if b.ModTime().Before(cutoff) {
				toDelete = append(toDelete, b.Name())
			}
		}
	}

	for _, name := range toDelete {
		full := filepath.Join(filepath.Dir(r.config.Filename), name)
		if err := os.Remove(full); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove old backup %s: %v\n", full, err)
		}
	}
	return nil
}

func (r *Rotator) backupFiles() ([]os.FileInfo, error) {
	dir := filepath.Dir(r.config.Filename)
	filename := filepath.Base(r.config.Filename)
	ext := filepath.Ext(filename)
	prefix := filename[:len(filename)-len(ext)]

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var backups []os.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if name == filename {
			continue
		}
		if strings.HasPrefix(name, prefix+"-") && (strings.HasSuffix(name, ext) || strings.HasSuffix(name, ext+".gz")) {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			backups = append(backups, info)
		}
	}
	return backups, nil
}

package trafficlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileDriver writes newline-delimited JSON traffic log entries to a
// directory of rollover files. Writes are serialized by a mutex around the
// active file handle.
type FileDriver struct {
	mu          sync.Mutex
	dir         string
	prefix      string
	maxSizeByte int64
	maxFiles    int

	file     *os.File
	writer   *bufio.Writer
	fileSize int64
}

// FileDriverConfig controls FileDriver construction.
type FileDriverConfig struct {
	Dir          string
	Prefix       string
	MaxFileSizeMB int
	MaxFileCount int
}

// NewFileDriver opens (creating if necessary) dir and starts a fresh
// rollover file.
func NewFileDriver(cfg FileDriverConfig) (*FileDriver, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "traffic"
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 64
	}
	if cfg.MaxFileCount <= 0 {
		cfg.MaxFileCount = 10
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create traffic log directory: %w", err)
	}

	d := &FileDriver{
		dir:         cfg.Dir,
		prefix:      cfg.Prefix,
		maxSizeByte: int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		maxFiles:    cfg.MaxFileCount,
	}
	if err := d.openNewFile(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *FileDriver) openNewFile() error {
	name := fmt.Sprintf("%s_%s.ndjson", d.prefix, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(d.dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open traffic log file: %w", err)
	}
	d.file = file
	d.writer = bufio.NewWriter(file)
	d.fileSize = 0
	return nil
}

// WriteBatch appends entries as newline-delimited JSON, rolling over to a
// fresh file when the projected size would exceed maxSizeByte and pruning
// files beyond maxFiles.
func (d *FileDriver) WriteBatch(ctx context.Context, entries []Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	encoded := make([][]byte, 0, len(entries))
	var projected int64
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode traffic log entry: %w", err)
		}
		line = append(line, '\n')
		encoded = append(encoded, line)
		projected += int64(len(line))
	}

	if d.fileSize+projected > d.maxSizeByte && d.fileSize > 0 {
		if err := d.rollover(); err != nil {
			return err
		}
	}

	for _, line := range encoded {
		if _, err := d.writer.Write(line); err != nil {
			return fmt.Errorf("write traffic log entry: %w", err)
		}
		d.fileSize += int64(len(line))
	}
	return d.writer.Flush()
}

func (d *FileDriver) rollover() error {
	if err := d.writer.Flush(); err != nil {
		return fmt.Errorf("flush traffic log file before rollover: %w", err)
	}
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("close traffic log file before rollover: %w", err)
	}
	if err := d.openNewFile(); err != nil {
		return err
	}
	return d.pruneOldFiles()
}

func (d *FileDriver) pruneOldFiles() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("list traffic log directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), d.prefix+"_") && strings.HasSuffix(entry.Name(), ".ndjson") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for len(names) > d.maxFiles {
		if err := os.Remove(filepath.Join(d.dir, names[0])); err != nil {
			return fmt.Errorf("prune traffic log file: %w", err)
		}
		names = names[1:]
	}
	return nil
}

// Close flushes and closes the active file handle.
func (d *FileDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		return fmt.Errorf("flush traffic log file: %w", err)
	}
	return d.file.Close()
}

// ABOUTME: Per-extension artifact cache keyed by a blake2b digest of the bundle
// ABOUTME: Stale entries are purged and the bundle's assets re-extracted

package loader

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"

	"github.com/2389/plugshell/internal/metrics"
)

const stampFile = ".stamp"

// artifactCache manages <root>/<extension>/ entries. An empty root disables it.
type artifactCache struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

// clear removes the whole cache root.
func (c *artifactCache) clear() error {
	if c.root == "" {
		return nil
	}
	size, err := treeSize(c.fs, c.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sizing cache: %w", err)
	}
	if err := c.fs.RemoveAll(c.root); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}

	metrics.CachePurgesTotal.WithLabelValues("forced").Inc()
	metrics.CachePurgedBytesTotal.Add(float64(size))
	c.logger.Info("artifact cache cleared", "dir", c.root, "freed", humanize.Bytes(uint64(size)))
	return nil
}

// refresh makes sure the entry for name matches digest, re-extracting the
// bundle's assets when it does not. It returns the entry directory.
func (c *artifactCache) refresh(name, bundleDir, digest string) (string, error) {
	if c.root == "" {
		return "", nil
	}
	entry := filepath.Join(c.root, name)
	stampPath := filepath.Join(entry, stampFile)

	stamp, err := afero.ReadFile(c.fs, stampPath)
	switch {
	case err == nil && strings.TrimSpace(string(stamp)) == digest:
		return entry, nil
	case err == nil:
		c.purge(entry, "stale")
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("reading cache stamp: %w", err)
	default:
		// No stamp; anything left behind is from an interrupted extraction.
		if ok, _ := afero.DirExists(c.fs, entry); ok {
			c.purge(entry, "unstamped")
		}
	}

	if err := c.fs.MkdirAll(entry, 0o755); err != nil {
		return "", fmt.Errorf("creating cache entry: %w", err)
	}
	n, err := copyTree(c.fs, filepath.Join(bundleDir, AssetsDir), entry)
	if err != nil {
		return "", fmt.Errorf("extracting assets: %w", err)
	}
	if err := afero.WriteFile(c.fs, stampPath, []byte(digest+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("writing cache stamp: %w", err)
	}

	c.logger.Debug("cache entry extracted", "extension", name, "files", n)
	return entry, nil
}

func (c *artifactCache) purge(entry, reason string) {
	size, _ := treeSize(c.fs, entry)
	if err := c.fs.RemoveAll(entry); err != nil {
		c.logger.Warn("failed to purge cache entry", "dir", entry, "error", err)
		return
	}
	metrics.CachePurgesTotal.WithLabelValues(reason).Inc()
	metrics.CachePurgedBytesTotal.Add(float64(size))
	c.logger.Info("cache entry purged", "dir", entry, "reason", reason, "freed", humanize.Bytes(uint64(size)))
}

// bundleDigest hashes the relative path and contents of every regular file
// under dir, in path order.
func bundleDigest(fsys afero.Fs, dir string) (string, error) {
	var files []string
	err := afero.Walk(fsys, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking bundle: %w", err)
	}
	sort.Strings(files)

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	for _, rel := range files {
		io.WriteString(h, rel)
		h.Write([]byte{0})

		f, err := fsys.Open(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("opening %s: %w", rel, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", rel, err)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyTree copies src into dst and returns the number of files copied.
// A missing src copies nothing.
func copyTree(fsys afero.Fs, src, dst string) (int, error) {
	if ok, err := afero.DirExists(fsys, src); err != nil || !ok {
		return 0, err
	}

	n := 0
	err := afero.Walk(fsys, src, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return fsys.MkdirAll(target, 0o755)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		data, err := afero.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		n++
		return afero.WriteFile(fsys, target, data, 0o644)
	})
	return n, err
}

func treeSize(fsys afero.Fs, dir string) (int64, error) {
	var size int64
	err := afero.Walk(fsys, dir, func(_ string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

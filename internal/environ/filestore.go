package environ

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"shardrun/pkg/logging"
)

// cloneTree clones src into dst, preferring hardlinks per file and falling
// back to a byte-for-byte copy when linking fails (cross-device, permission).
// Directories are recreated, never linked.
func cloneTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("filestore source %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("filestore source %s is not a directory", src)
	}

	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if fi.IsDir() {
			return os.MkdirAll(target, fi.Mode())
		}
		if !fi.Mode().IsRegular() {
			// Sockets, fifos and symlinks do not belong in a filestore
			// snapshot; skip rather than fail.
			logging.Debug("environ", "Skipping irregular file %s", path)
			return nil
		}

		if err := os.Link(path, target); err == nil {
			return nil
		}
		return copyFile(path, target, fi.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

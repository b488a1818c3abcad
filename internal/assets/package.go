package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
)

// zipEpoch is the modification time stamped on every entry so identical
// trees produce identical archives.
var zipEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Package is a zipped asset on local disk.
type Package struct {
	Path      string
	SHA256    string
	SizeBytes int64
	Files     int
}

// PackageDir zips srcDir into dstPath. Entries are written in lexical order
// with a fixed timestamp.
func PackageDir(srcDir, dstPath string) (Package, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return Package{}, fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return Package{}, fmt.Errorf("source %q is not a directory", srcDir)
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return Package{}, fmt.Errorf("create archive: %w", err)
	}
	hash := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(out, hash)}

	files, zipErr := writeZip(counter, srcDir)
	closeErr := out.Close()
	if zipErr != nil {
		_ = os.Remove(dstPath)
		return Package{}, zipErr
	}
	if closeErr != nil {
		_ = os.Remove(dstPath)
		return Package{}, fmt.Errorf("close archive: %w", closeErr)
	}
	if files == 0 {
		_ = os.Remove(dstPath)
		return Package{}, fmt.Errorf("source %q contains no files", srcDir)
	}

	return Package{
		Path:      dstPath,
		SHA256:    hex.EncodeToString(hash.Sum(nil)),
		SizeBytes: counter.n,
		Files:     files,
	}, nil
}

func writeZip(w io.Writer, root string) (int, error) {
	zw := zip.NewWriter(w)
	files := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Modified = zipEpoch
		header.SetMode(entryMode(info.Mode()))
		if d.IsDir() {
			header.Name += "/"
			header.Method = zip.Store
			_, err := zw.CreateHeader(header)
			return err
		}
		header.Method = zip.Deflate

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			entry, err := zw.CreateHeader(header)
			if err != nil {
				return err
			}
			_, err = io.WriteString(entry, target)
			files++
			return err
		case info.Mode().IsRegular():
			entry, err := zw.CreateHeader(header)
			if err != nil {
				return err
			}
			if err := copyFile(entry, path); err != nil {
				return err
			}
			files++
			return nil
		default:
			return fmt.Errorf("unsupported file type %s at %s", info.Mode().Type(), rel)
		}
	})
	if err != nil {
		_ = zw.Close()
		return 0, fmt.Errorf("write archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finish archive: %w", err)
	}
	return files, nil
}

// entryMode drops host permission bits so the archive does not depend on the
// builder's umask: 0755 for directories and executables, 0644 otherwise.
func entryMode(mode fs.FileMode) fs.FileMode {
	switch {
	case mode.IsDir():
		return fs.ModeDir | 0o755
	case mode&fs.ModeSymlink != 0:
		return fs.ModeSymlink | 0o777
	case mode&0o111 != 0:
		return 0o755
	default:
		return 0o644
	}
}

func copyFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ObjectKey is the content-addressed key an asset is stored under.
func ObjectKey(sha256Hex string) (string, error) {
	if len(sha256Hex) != 64 {
		return "", errors.New("sha256 must be 64 hex characters")
	}
	if _, err := hex.DecodeString(sha256Hex); err != nil {
		return "", fmt.Errorf("sha256 is not hex: %w", err)
	}
	return "assets/" + sha256Hex + ".zip", nil
}

// Package files provides the small set of filesystem operations the pipeline needs: removing an output tree and
// copying files or whole trees over existing output.
package files

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
)

// Clean removes dir and everything below it.  A missing directory is not an error.
func Clean(dir string) error {
	err := os.RemoveAll(dir)
	if err != nil {
		return errors.Wrapf(err, `while removing %q`, dir)
	}
	return nil
}

// CopyFile copies src to dst byte for byte, creating parent directories of dst as needed and replacing dst if it
// already exists.  The file mode of src is preserved.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, `while opening %q`, src)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return errors.Wrapf(err, `while checking %q`, src)
	}
	if info.IsDir() {
		return errors.Errorf(`%q is a directory`, src)
	}
	err = os.MkdirAll(filepath.Dir(dst), 0o755)
	if err != nil {
		return errors.Wrapf(err, `while creating directory for %q`, dst)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errors.Wrapf(err, `while creating %q`, dst)
	}
	_, err = io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return errors.Wrapf(err, `while copying %q to %q`, src, dst)
	}
	return errors.Wrapf(out.Close(), `while closing %q`, dst)
}

// CopyTree copies every file below src into the same relative location below dst, overwriting files that already
// exist in dst.  Files in dst that have no counterpart in src are left alone.  Symbolic links are followed, so a
// linked directory is copied as a directory.
func CopyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, `while checking %q`, src)
	}
	if !info.IsDir() {
		return errors.Errorf(`%q is not a directory`, src)
	}
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return errors.Wrapf(os.MkdirAll(target, 0o755), `while creating %q`, target)
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				return errors.Wrapf(err, `while following %q`, path)
			}
			if info.IsDir() {
				return CopyTree(path, target)
			}
		}
		return CopyFile(path, target)
	})
}

// WriteFile writes data to path, creating parent directories as needed.
func WriteFile(path string, data []byte) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return errors.Wrapf(err, `while creating directory for %q`, path)
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), `while writing %q`, path)
}

// Exists is true if path names an existing file or directory.  A path running through a regular file does not exist.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return false, nil
	default:
		return false, errors.Wrapf(err, `while checking %q`, path)
	}
}

// Package fsutil provides file helpers shared by the writers in this module.
package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteFileAtomic writes the output of fn to path. The data goes to a
// temporary file in the same directory which is renamed over path only after
// fn succeeds and the file is synced, so readers never see a partial file.
func WriteFileAtomic(path string, fn func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temporary file for %s", path)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err = fn(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrapf(err, "syncing %s", tmpName)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmpName)
	}
	if err = os.Chmod(tmpName, 0644); err != nil {
		return errors.Wrapf(err, "setting permissions on %s", tmpName)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmpName, path)
	}
	return nil
}

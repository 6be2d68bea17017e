package transformlist

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"fracture/internal/fsutil"
	"fracture/internal/models"
)

// zstdMagic is the frame header of a zstd stream.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Compressed reports whether path selects the zstd-compressed form.
func Compressed(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zst")
}

// Save writes list to path atomically. Paths ending in .zst are
// zstd-compressed.
func Save(path string, list *models.TransformList, opts Options) error {
	err := fsutil.WriteFileAtomic(path, func(w io.Writer) error {
		if !Compressed(path) {
			return Write(w, list, opts)
		}

		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return err
		}
		if err := Write(enc, list, opts); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	})
	return errors.Wrapf(err, "saving transforms to %s", path)
}

// Load reads a transform list from path. Compressed files are detected by
// their zstd frame header, whatever their extension.
func Load(path string) (*models.TransformList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading transforms from %s", path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if head, _ := br.Peek(len(zstdMagic)); bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, errors.Wrapf(err, "loading transforms from %s", path)
		}
		defer dec.Close()
		r = dec
	}

	list, err := Read(r)
	if err != nil {
		return nil, errors.Wrapf(err, "loading transforms from %s", path)
	}
	return list, nil
}

package imageio

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"fracture/internal/models"
)

// Endianness selects the FL32 variant.
type Endianness int

const (
	// BigEndian files start with "fl32"
	BigEndian Endianness = iota
	// LittleEndian files start with the legacy "23lf" magic
	LittleEndian
)

const (
	magicBig    = "fl32"
	magicLittle = "23lf"

	// maxFL32Samples bounds the allocation made for a header read from disk.
	maxFL32Samples = 1 << 28
)

func (e Endianness) order() binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (e Endianness) magic() string {
	if e == LittleEndian {
		return magicLittle
	}
	return magicBig
}

// ReadFL32 decodes a raw float dump: a 4-byte magic, three uint32 header
// fields (channels, width, height) and width*height*channels float32
// samples in [y][x][channel] order, all in the byte order the magic names.
func ReadFL32(r io.Reader) (*Raster, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, models.FormatErrorf("reading FL32 magic: %v", err)
	}

	var order binary.ByteOrder
	switch string(magic[:]) {
	case magicBig:
		order = binary.BigEndian
	case magicLittle:
		order = binary.LittleEndian
	default:
		return nil, models.FormatErrorf("bad FL32 signature %q", string(magic[:]))
	}

	var header struct {
		Channels uint32
		Width    uint32
		Height   uint32
	}
	if err := binary.Read(br, order, &header); err != nil {
		return nil, models.FormatErrorf("reading FL32 header: %v", err)
	}
	if header.Channels == 0 || header.Width == 0 || header.Height == 0 {
		return nil, models.FormatErrorf("bad FL32 dimensions %dx%dx%d", header.Width, header.Height, header.Channels)
	}
	total := uint64(header.Channels) * uint64(header.Width) * uint64(header.Height)
	if total > maxFL32Samples {
		return nil, models.FormatErrorf("FL32 image of %d samples is too large", total)
	}

	raster := NewRaster(int(header.Width), int(header.Height), int(header.Channels))
	var buf [4]byte
	for i := range raster.Pix {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, models.FormatErrorf("FL32 data truncated at sample %d of %d", i, total)
		}
		raster.Pix[i] = float64(math.Float32frombits(order.Uint32(buf[:])))
	}

	return raster, nil
}

// WriteFL32 encodes r as a raw float dump. Samples are narrowed to float32.
func WriteFL32(w io.Writer, r *Raster, e Endianness) error {
	order := e.order()
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(e.magic()); err != nil {
		return errors.Wrap(err, "writing FL32 magic")
	}
	header := [3]uint32{uint32(r.Channels), uint32(r.Width), uint32(r.Height)}
	if err := binary.Write(bw, order, header); err != nil {
		return errors.Wrap(err, "writing FL32 header")
	}

	var buf [4]byte
	for _, v := range r.Pix {
		order.PutUint32(buf[:], math.Float32bits(float32(v)))
		if _, err := bw.Write(buf[:]); err != nil {
			return errors.Wrap(err, "writing FL32 data")
		}
	}
	return bw.Flush()
}

// Package volumeio reads and writes labeled float32 volumes in a compact
// zstd-compressed binary format.
//
// The uncompressed stream is laid out as
//
//	magic   [4]byte  "TPV1"
//	rank    uint32
//	dims    [rank]uint32
//	axes    [rank]byte   axis letters, e.g. 'Z' 'Y' 'X'
//	data    [prod(dims)]float32
//	crc     uint32       IEEE CRC32 of the data bytes
//
// with all integers and floats little endian.
package volumeio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"

	"tiledpredict/internal/models"
)

var magic = [4]byte{'T', 'P', 'V', '1'}

const maxRank = 16

var (
	ErrBadMagic = errors.New("not a tiledpredict volume")
	ErrChecksum = errors.New("volume checksum mismatch")
)

// Write encodes img to w.
func Write(w io.Writer, img *models.Image) error {
	if img.Rank() > maxRank {
		return fmt.Errorf("rank %d exceeds maximum of %d", img.Rank(), maxRank)
	}
	if len(img.Axes) != img.Rank() {
		return fmt.Errorf("image has %d axes for rank %d", len(img.Axes), img.Rank())
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(zw)

	header := make([]uint32, 0, img.Rank()+1)
	header = append(header, uint32(img.Rank()))
	for _, d := range img.Shape {
		header = append(header, uint32(d))
	}
	if err := binary.Write(bw, binary.LittleEndian, magic); err != nil {
		zw.Close()
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		zw.Close()
		return err
	}
	if _, err := bw.WriteString(models.FormatAxes(img.Axes)); err != nil {
		zw.Close()
		return err
	}

	crc := crc32.NewIEEE()
	var buf [4]byte
	for _, v := range img.Data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		crc.Write(buf[:])
		if _, err := bw.Write(buf[:]); err != nil {
			zw.Close()
			return err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, crc.Sum32()); err != nil {
		zw.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Read decodes a volume written by Write.
func Read(r io.Reader) (*models.Image, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	br := bufio.NewReader(zr)

	var m [4]byte
	if err := binary.Read(br, binary.LittleEndian, &m); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if m != magic {
		return nil, ErrBadMagic
	}
	var rank uint32
	if err := binary.Read(br, binary.LittleEndian, &rank); err != nil {
		return nil, fmt.Errorf("reading rank: %w", err)
	}
	if rank > maxRank {
		return nil, fmt.Errorf("rank %d exceeds maximum of %d", rank, maxRank)
	}
	dims := make([]uint32, rank)
	if err := binary.Read(br, binary.LittleEndian, dims); err != nil {
		return nil, fmt.Errorf("reading dimensions: %w", err)
	}
	letters := make([]byte, rank)
	if _, err := io.ReadFull(br, letters); err != nil {
		return nil, fmt.Errorf("reading axes: %w", err)
	}
	labels, err := models.ParseAxes(string(letters))
	if err != nil {
		return nil, err
	}

	shape := make([]int, rank)
	for i, d := range dims {
		shape[i] = int(d)
	}
	img := models.NewImage(shape, labels)

	crc := crc32.NewIEEE()
	var buf [4]byte
	for i := range img.Data {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, fmt.Errorf("reading sample %d: %w", i, err)
		}
		crc.Write(buf[:])
		img.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	var stored uint32
	if err := binary.Read(br, binary.LittleEndian, &stored); err != nil {
		return nil, fmt.Errorf("reading checksum: %w", err)
	}
	if stored != crc.Sum32() {
		return nil, ErrChecksum
	}
	return img, nil
}

// Save writes img to the named file.
func Save(path string, img *models.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating volume file: %w", err)
	}
	if err := Write(f, img); err != nil {
		f.Close()
		return fmt.Errorf("error writing volume %s: %w", path, err)
	}
	return f.Close()
}

// Load reads the named volume file.
func Load(path string) (*models.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening volume file: %w", err)
	}
	defer f.Close()
	img, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("error reading volume %s: %w", path, err)
	}
	return img, nil
}

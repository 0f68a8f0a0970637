package volumeio

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiledpredict/internal/models"
)

func testVolume() *models.Image {
	img := models.NewImage([]int{3, 4, 5, 2}, []models.AxisType{models.Z, models.Y, models.X, models.Channel})
	for i := range img.Data {
		img.Data[i] = float32(i)*0.5 - 7
	}
	return img
}

func TestSaveLoad(t *testing.T) {
	img := testVolume()
	path := filepath.Join(t.TempDir(), "vol.tpv")
	require.NoError(t, Save(path, img))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, img.Shape, got.Shape)
	assert.Equal(t, img.Axes, got.Axes)
	assert.Equal(t, img.Data, got.Data)
}

func TestUnknownAxesSurvive(t *testing.T) {
	img := models.NewImage([]int{2, 3}, []models.AxisType{models.Unknown, models.Time})
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, img))
	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, img.Axes, got.Axes)
}

func TestRejectsForeignData(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write([]byte("NOPE0000"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Read(&buf)
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = Read(bytes.NewReader([]byte("plain bytes")))
	assert.Error(t, err)
}

func TestDetectsCorruption(t *testing.T) {
	img := testVolume()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, img))

	// Re-encode the stream with one flipped sample.
	zr, err := zstd.NewReader(nil)
	require.NoError(t, err)
	raw, err := zr.DecodeAll(buf.Bytes(), nil)
	require.NoError(t, err)
	zr.Close()
	raw[len(raw)-8] ^= 0xff

	zw, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	corrupted := zw.EncodeAll(raw, nil)
	require.NoError(t, zw.Close())

	_, err = Read(bytes.NewReader(corrupted))
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.tpv"))
	assert.Error(t, err)
}

package recorder

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightwatch/sentrycam/pkg/types"
)

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 10, B: 10, A: 255})
		}
	}
	return img
}

func TestWriter_PersistsImageAndAnnotation(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(4).Start()
	defer w.Stop()

	imagePath := MintImagePath(dir, "cat", 1700000000)
	ok := w.TrySubmit(WriteJob{
		Frame:           solidImage(64, 48),
		Box:             types.Rect{XMin: 5, YMin: 5, XMax: 20, YMax: 20},
		Label:           "cat",
		ImagePath:       imagePath,
		WriteImage:      true,
		WriteAnnotation: true,
		JPEGQuality:     80,
	})
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return w.ImagesWritten() == 1
	}, time.Second, 5*time.Millisecond)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var hasJPEG, hasXML bool
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".jpg":
			hasJPEG = true
		case ".xml":
			hasXML = true
		}
	}
	assert.True(t, hasJPEG)
	assert.True(t, hasXML)
}

func TestWriter_DropsJobWhenQueueFull(t *testing.T) {
	w := NewWriter(1)
	// Not started: the channel never drains, so the second submit must see
	// it full once the first occupies the only slot.
	job := WriteJob{Frame: solidImage(8, 8), ImagePath: MintImagePath(t.TempDir(), "cat", 1700000000), WriteImage: true}
	require.True(t, w.TrySubmit(job))
	assert.False(t, w.TrySubmit(job))
}

func TestDrawBox_EmptyBoxLeavesFrameUnmodified(t *testing.T) {
	img := solidImage(10, 10)
	out := drawBox(img, types.Rect{})
	assert.Equal(t, img.Bounds(), out.Bounds())
	assert.Equal(t, img.(*image.RGBA).Pix, out.(*image.RGBA).Pix)
}

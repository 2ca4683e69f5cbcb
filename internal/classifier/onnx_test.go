package classifier

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftmaxAndTop1(t *testing.T) {
	probs := softmax([]float32{1, 3, 2})

	var sum float32
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-5)

	idx, p := top1(probs)
	assert.Equal(t, 1, idx)
	assert.Greater(t, p, float32(0.5))

	idx, _ = top1(softmax(nil))
	assert.Equal(t, -1, idx)
}

func TestImageToCHW(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}

	data := imageToCHW(img, 4, 4)
	require.Len(t, data, 3*4*4)

	assert.InDelta(t, (1-imagenetMean[0])/imagenetStd[0], data[0], 1e-5)
	assert.InDelta(t, (0-imagenetMean[1])/imagenetStd[1], data[16], 1e-5)
	assert.InDelta(t, (0-imagenetMean[2])/imagenetStd[2], data[32], 1e-5)
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("tench, Tinca tinca\n\nbullfrog, Rana catesbeiana\n"), 0o600))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tench, Tinca tinca", "bullfrog, Rana catesbeiana"}, labels)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = LoadLabels(empty)
	assert.Error(t, err)
}

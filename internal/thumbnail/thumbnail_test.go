package thumbnail

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/rasterpeek/pkg/raster"
)

func filledBand(index, width, height int, value float64) *raster.Band {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = value
	}
	return &raster.Band{Index: index, Width: width, Height: height, Data: data}
}

func TestNormalizationApply(t *testing.T) {
	testCases := []struct {
		name  string
		n     Normalization
		input float64
		want  uint8
	}{
		{"zero", DefaultNormalization, 0, 0},
		{"full range", DefaultNormalization, 4000, 255},
		{"mid range truncates", DefaultNormalization, 2000, 127},
		{"small value truncates to zero", DefaultNormalization, 15, 0},
		{"overflow wraps", DefaultNormalization, 4100, 5},     // trunc(261.375) = 261
		{"far overflow wraps", DefaultNormalization, 8100, 4}, // trunc(516.375) = 516
		{"negative wraps", DefaultNormalization, -100, 250},   // trunc(-6.375) = -6
		{"nan", DefaultNormalization, math.NaN(), 0},
		{"infinity", DefaultNormalization, math.Inf(1), 0},
		{"saturate high", Normalization{MaxValue: 4000, Saturate: true}, 4100, 255},
		{"saturate low", Normalization{MaxValue: 4000, Saturate: true}, -100, 0},
		{"saturate in range", Normalization{MaxValue: 4000, Saturate: true}, 2000, 127},
		{"custom max", Normalization{MaxValue: 255}, 200, 200},
		{"unset max falls back", Normalization{}, 4000, 255},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.n.Apply(tc.input))
		})
	}
}

func TestCompose_ChannelOrder(t *testing.T) {
	red := filledBand(4, 2, 2, 4000)
	green := filledBand(3, 2, 2, 2000)
	blue := filledBand(2, 2, 2, 0)

	img, err := Compose(red, green, blue, DefaultNormalization)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
	c := img.NRGBAAt(1, 1)
	assert.Equal(t, uint8(255), c.R)
	assert.Equal(t, uint8(127), c.G)
	assert.Equal(t, uint8(0), c.B)
	assert.Equal(t, uint8(255), c.A)
}

func TestCompose_PixelPlacement(t *testing.T) {
	red := &raster.Band{Index: 4, Width: 3, Height: 1, Data: []float64{0, 4000, 0}}
	other := filledBand(3, 3, 1, 0)

	img, err := Compose(red, other, other, DefaultNormalization)
	require.NoError(t, err)

	assert.Equal(t, uint8(0), img.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(255), img.NRGBAAt(1, 0).R)
	assert.Equal(t, uint8(0), img.NRGBAAt(2, 0).R)
}

func TestCompose_Errors(t *testing.T) {
	ok := filledBand(1, 2, 2, 0)

	_, err := Compose(ok, ok, nil, DefaultNormalization)
	assert.Error(t, err)

	_, err = Compose(ok, ok, filledBand(2, 3, 2, 0), DefaultNormalization)
	assert.Error(t, err)

	short := &raster.Band{Index: 2, Width: 2, Height: 2, Data: []float64{1}}
	_, err = Compose(ok, ok, short, DefaultNormalization)
	assert.Error(t, err)
}

func TestFit(t *testing.T) {
	testCases := []struct {
		name          string
		width, height int
		resolution    int
		wantW, wantH  int
	}{
		{"square shrinks", 512, 512, 50, 50, 50},
		{"landscape", 400, 200, 100, 100, 50},
		{"portrait", 200, 400, 100, 50, 100},
		{"never upscales", 40, 30, 100, 40, 30},
		{"exact fit", 100, 60, 100, 100, 60},
		{"odd aspect rounds", 300, 200, 50, 50, 33},
		{"short side rounds up", 512, 300, 100, 100, 59},
		{"3:2 rounds up", 1000, 667, 100, 100, 67},
		{"portrait rounds up", 300, 512, 100, 59, 100},
		{"one side over", 150, 80, 100, 100, 53},
		{"thin strip keeps a pixel", 5000, 10, 100, 100, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			src := image.NewNRGBA(image.Rect(0, 0, tc.width, tc.height))

			out, err := Fit(src, tc.resolution)
			require.NoError(t, err)

			assert.Equal(t, tc.wantW, out.Bounds().Dx())
			assert.Equal(t, tc.wantH, out.Bounds().Dy())
		})
	}
}

func TestFitSize(t *testing.T) {
	testCases := []struct {
		width, height, resolution int
		wantW, wantH              int
	}{
		{512, 512, 50, 50, 50},
		{512, 300, 100, 100, 59},
		{1000, 667, 100, 100, 67},
		{667, 1000, 100, 67, 100},
		{300, 200, 50, 50, 33},
		{10980, 10980, 100, 100, 100},
		{90, 100, 100, 90, 100},
	}

	for _, tc := range testCases {
		w, h := FitSize(tc.width, tc.height, tc.resolution)
		assert.Equal(t, tc.wantW, w, "%dx%d at %d", tc.width, tc.height, tc.resolution)
		assert.Equal(t, tc.wantH, h, "%dx%d at %d", tc.width, tc.height, tc.resolution)
	}
}

func TestFit_InvalidResolution(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 10, 10))

	for _, res := range []int{0, -1} {
		_, err := Fit(src, res)
		assert.Error(t, err, "resolution %d", res)
	}

	_, err := Fit(image.NewNRGBA(image.Rect(0, 0, 0, 0)), 10)
	assert.Error(t, err)
}

func TestFit_BoxFilterAverages(t *testing.T) {
	// Alternating black and white columns average to mid grey
	red := &raster.Band{Width: 4, Height: 4, Data: make([]float64, 16)}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x += 2 {
			red.Data[y*4+x] = 4000
		}
	}
	zero := filledBand(0, 4, 4, 0)

	img, err := Compose(red, zero, zero, DefaultNormalization)
	require.NoError(t, err)

	out, err := Fit(img, 2)
	require.NoError(t, err)

	r := out.NRGBAAt(0, 0).R
	assert.InDelta(t, 127, int(r), 2)
}

func TestEncodePNG(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 7, 3))

	data, err := EncodePNG(src)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}))

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Width)
	assert.Equal(t, 3, cfg.Height)
}

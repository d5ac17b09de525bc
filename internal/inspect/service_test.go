package inspect

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/rasterpeek/internal/rastertest"
	"github.com/kiesman99/rasterpeek/internal/thumbnail"
	"github.com/kiesman99/rasterpeek/pkg/raster"
)

func newTestService(t *testing.T) (*Service, *rastertest.Decoder) {
	t.Helper()
	decoder := rastertest.NewDecoder()
	svc, err := New(decoder, DefaultConfig(), nil)
	require.NoError(t, err)
	return svc, decoder
}

func TestExtractAttributes_Scene(t *testing.T) {
	svc, decoder := newTestService(t)
	payload := rastertest.NewPayload(decoder.Register(rastertest.Scene(12)))

	attrs, err := svc.ExtractAttributes(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, 512, attrs.Width)
	assert.Equal(t, 512, attrs.Height)
	assert.Equal(t, 12, attrs.Bands)
	assert.Equal(t, "EPSG:32633", attrs.CoordinateReferenceSystem)
	assert.InDelta(t, 399960.0, attrs.BoundingBox.MinX, 1e-6)
	assert.InDelta(t, 6190200.0, attrs.BoundingBox.MinY, 1e-6)
	assert.InDelta(t, 509760.0, attrs.BoundingBox.MaxX, 1e-6)
	assert.InDelta(t, 6300000.0, attrs.BoundingBox.MaxY, 1e-6)

	assert.True(t, payload.Closed(), "payload must be released")
	assert.Equal(t, decoder.Opened(), decoder.Closed())
}

func TestExtractAttributes_ThreeBands(t *testing.T) {
	svc, decoder := newTestService(t)
	payload := rastertest.NewPayload(decoder.Register(rastertest.NewFixture(30, 20, 3)))

	attrs, err := svc.ExtractAttributes(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 3, attrs.Bands)
	assert.Equal(t, 30, attrs.Width)
	assert.Equal(t, 20, attrs.Height)
}

func TestExtractAttributes_Failures(t *testing.T) {
	noCRS := rastertest.NewFixture(8, 8, 4)
	noCRS.CRS = ""
	noBands := rastertest.NewFixture(8, 8, 0)
	noGeo := rastertest.NewFixture(8, 8, 4)
	noGeo.NoGeoTransform = true

	testCases := []struct {
		name    string
		fixture *rastertest.Fixture
		payload []byte
		wantMsg string
	}{
		{name: "malformed bytes", payload: []byte("definitely not a raster"), wantMsg: "not recognized as a supported file format"},
		{name: "missing crs", fixture: noCRS, wantMsg: "no coordinate reference system"},
		{name: "zero bands", fixture: noBands, wantMsg: "no bands"},
		{name: "missing geotransform", fixture: noGeo, wantMsg: "no geotransform"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, decoder := newTestService(t)
			data := tc.payload
			if tc.fixture != nil {
				data = decoder.Register(tc.fixture)
			}
			payload := rastertest.NewPayload(data)

			attrs, err := svc.ExtractAttributes(context.Background(), payload)
			require.Error(t, err)
			assert.Nil(t, attrs)
			assert.True(t, IsValidation(err), "expected validation error, got %T", err)
			assert.Contains(t, err.Error(), tc.wantMsg)
			assert.True(t, payload.Closed())
			assert.Equal(t, decoder.Opened(), decoder.Closed())
		})
	}
}

func TestRenderThumbnail_Scene(t *testing.T) {
	svc, decoder := newTestService(t)
	payload := rastertest.NewPayload(decoder.Register(rastertest.Scene(12)))

	result, err := svc.RenderThumbnail(context.Background(), payload, 50)
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(result.ImageData))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
	assert.Equal(t, 50, result.Width)
	assert.Equal(t, 50, result.Height)
	require.NotNil(t, result.Bounds)
	assert.Equal(t, rastertest.SceneBounds, *result.Bounds)
	assert.True(t, payload.Closed())
	assert.Equal(t, 1, decoder.Closed())
}

func TestRenderThumbnail_NoGeoTransform(t *testing.T) {
	svc, decoder := newTestService(t)
	f := rastertest.NewFixture(16, 16, 4)
	f.NoGeoTransform = true

	result, err := svc.RenderThumbnail(context.Background(), rastertest.NewPayload(decoder.Register(f)), 8)
	require.NoError(t, err)
	assert.Nil(t, result.Bounds)
}

func TestRenderThumbnail_DefaultResolution(t *testing.T) {
	svc, decoder := newTestService(t)
	payload := rastertest.NewPayload(decoder.Register(rastertest.NewFixture(400, 200, 4)))

	result, err := svc.RenderThumbnail(context.Background(), payload, 0)
	require.NoError(t, err)

	assert.Equal(t, 100, result.Width)
	assert.Equal(t, 50, result.Height)
}

func TestRenderThumbnail_NoUpscale(t *testing.T) {
	svc, decoder := newTestService(t)
	payload := rastertest.NewPayload(decoder.Register(rastertest.NewFixture(40, 25, 4)))

	result, err := svc.RenderThumbnail(context.Background(), payload, 100)
	require.NoError(t, err)

	assert.Equal(t, 40, result.Width)
	assert.Equal(t, 25, result.Height)
}

func TestRenderThumbnail_ChannelAssignment(t *testing.T) {
	svc, decoder := newTestService(t)

	f := rastertest.NewFixture(2, 2, 4)
	fill := func(b int, v float64) {
		for i := range f.Bands[b-1] {
			f.Bands[b-1][i] = v
		}
	}
	fill(1, 4000)
	fill(2, 0)    // blue
	fill(3, 2000) // green
	fill(4, 4000) // red

	result, err := svc.RenderThumbnail(context.Background(), rastertest.NewPayload(decoder.Register(f)), 10)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(result.ImageData))
	require.NoError(t, err)
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(255), r>>8)
	assert.Equal(t, uint32(127), g>>8)
	assert.Equal(t, uint32(0), b>>8)
}

func TestRenderThumbnail_Idempotent(t *testing.T) {
	svc, decoder := newTestService(t)
	data := decoder.Register(rastertest.NewFixture(300, 200, 4))

	first, err := svc.RenderThumbnail(context.Background(), rastertest.NewPayload(data), 64)
	require.NoError(t, err)
	second, err := svc.RenderThumbnail(context.Background(), rastertest.NewPayload(data), 64)
	require.NoError(t, err)

	assert.Equal(t, first.ImageData, second.ImageData)

	a1, err := svc.ExtractAttributes(context.Background(), rastertest.NewPayload(data))
	require.NoError(t, err)
	a2, err := svc.ExtractAttributes(context.Background(), rastertest.NewPayload(data))
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

func TestRenderThumbnail_ThreeBandsFails(t *testing.T) {
	svc, decoder := newTestService(t)
	payload := rastertest.NewPayload(decoder.Register(rastertest.NewFixture(16, 16, 3)))

	_, err := svc.RenderThumbnail(context.Background(), payload, 50)
	require.Error(t, err)

	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "band index 4 out of range")
	assert.True(t, payload.Closed())
	assert.Equal(t, decoder.Opened(), decoder.Closed())
}

func TestRenderThumbnail_Malformed(t *testing.T) {
	svc, _ := newTestService(t)
	payload := rastertest.NewPayload([]byte{0x00, 0x01, 0x02})

	_, err := svc.RenderThumbnail(context.Background(), payload, 50)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.True(t, payload.Closed())
}

func TestRenderThumbnail_InvalidResolution(t *testing.T) {
	testCases := []struct {
		name       string
		resolution int
		wantMsg    string
	}{
		{"negative", -5, "resolution must be a positive integer, got -5"},
		{"above maximum", DefaultMaxResolution + 1, "exceeds the maximum"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, decoder := newTestService(t)
			payload := rastertest.NewPayload(decoder.Register(rastertest.NewFixture(8, 8, 4)))

			_, err := svc.RenderThumbnail(context.Background(), payload, tc.resolution)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Contains(t, err.Error(), tc.wantMsg)
			assert.True(t, payload.Closed())
			assert.Equal(t, 0, decoder.Opened(), "payload must not be decoded")
		})
	}
}

func TestRenderThumbnail_TooManyPixels(t *testing.T) {
	svc, decoder := newTestService(t)
	payload := rastertest.NewPayload(decoder.Register(rastertest.Declared(100000, 100000, 4)))

	_, err := svc.RenderThumbnail(context.Background(), payload, 50)
	require.Error(t, err)

	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "raster of 100000x100000 pixels exceeds the limit")
	assert.Equal(t, 0, decoder.Reads(), "no band may be read")
	assert.True(t, payload.Closed())
	assert.Equal(t, decoder.Opened(), decoder.Closed())
}

func TestRenderThumbnail_MaxPixelsBoundary(t *testing.T) {
	decoder := rastertest.NewDecoder()
	cfg := DefaultConfig()
	cfg.MaxPixels = 16 * 16
	svc, err := New(decoder, cfg, nil)
	require.NoError(t, err)

	_, err = svc.RenderThumbnail(context.Background(), rastertest.NewPayload(decoder.Register(rastertest.NewFixture(16, 16, 4))), 8)
	assert.NoError(t, err)

	_, err = svc.RenderThumbnail(context.Background(), rastertest.NewPayload(decoder.Register(rastertest.NewFixture(17, 16, 4))), 8)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestRenderThumbnail_CustomBands(t *testing.T) {
	decoder := rastertest.NewDecoder()
	cfg := DefaultConfig()
	cfg.Bands = raster.BandSelection{Red: 1, Green: 2, Blue: 3}
	svc, err := New(decoder, cfg, nil)
	require.NoError(t, err)

	payload := rastertest.NewPayload(decoder.Register(rastertest.NewFixture(16, 16, 3)))

	_, err = svc.RenderThumbnail(context.Background(), payload, 8)
	assert.NoError(t, err)
}

func TestRenderThumbnail_Cancelled(t *testing.T) {
	svc, decoder := newTestService(t)
	payload := rastertest.NewPayload(decoder.Register(rastertest.NewFixture(8, 8, 4)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.RenderThumbnail(ctx, payload, 8)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsValidation(err))
	assert.True(t, payload.Closed())
}

func TestNew_InvalidConfig(t *testing.T) {
	decoder := rastertest.NewDecoder()

	_, err := New(nil, DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Bands = raster.BandSelection{Red: 0, Green: 3, Blue: 2}
	_, err = New(decoder, cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Normalization = thumbnail.Normalization{MaxValue: 0}
	_, err = New(decoder, cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.DefaultResolution = cfg.MaxResolution + 1
	_, err = New(decoder, cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.MaxPixels = 0
	_, err = New(decoder, cfg, nil)
	assert.Error(t, err)
}

func TestValidationError(t *testing.T) {
	cause := errors.New("boom")
	err := invalid(OpThumbnail, cause)

	assert.Equal(t, "boom", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsValidation(err))
	assert.Same(t, err, invalid(OpAttributes, err))
	assert.Nil(t, invalid(OpAttributes, nil))
	assert.False(t, IsValidation(cause))
}

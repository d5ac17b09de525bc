package inspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/kiesman99/rasterpeek/internal/thumbnail"
	"github.com/kiesman99/rasterpeek/pkg/raster"
)

// Operation names used in errors, logs and metrics
const (
	OpAttributes = "attributes"
	OpThumbnail  = "thumbnail"
)

const (
	DefaultResolution    = 100
	DefaultMaxResolution = 4096

	// DefaultMaxPixels admits a full 10980x10980 Sentinel-2 tile
	DefaultMaxPixels = 1 << 27
)

// Config contains the fixed rendering parameters of a Service
type Config struct {
	Bands             raster.BandSelection
	Normalization     thumbnail.Normalization
	DefaultResolution int
	MaxResolution     int

	// MaxPixels bounds width*height of rasters that are rendered, since
	// every selected band is read fully into memory
	MaxPixels int64
}

// DefaultConfig returns the Sentinel-2 natural colour setup
func DefaultConfig() Config {
	return Config{
		Bands:             raster.DefaultBandSelection,
		Normalization:     thumbnail.DefaultNormalization,
		DefaultResolution: DefaultResolution,
		MaxResolution:     DefaultMaxResolution,
		MaxPixels:         DefaultMaxPixels,
	}
}

// Result contains a rendered thumbnail
type Result struct {
	ImageData []byte
	Width     int
	Height    int

	// Bounds is the extent of the source raster, nil when it carries no
	// geotransform
	Bounds *raster.BoundingBox
}

// Service extracts attributes and renders thumbnails from raster
// payloads. It holds no per-request state and is safe for concurrent use.
type Service struct {
	decoder raster.Decoder
	cfg     Config
	logger  *zap.Logger
}

// New creates a new service instance
func New(decoder raster.Decoder, cfg Config, logger *zap.Logger) (*Service, error) {
	if decoder == nil {
		return nil, fmt.Errorf("raster decoder is required")
	}
	if err := cfg.Bands.Validate(); err != nil {
		return nil, fmt.Errorf("invalid band selection: %w", err)
	}
	if cfg.Normalization.MaxValue <= 0 {
		return nil, fmt.Errorf("normalization max value must be positive, got %g", cfg.Normalization.MaxValue)
	}
	if cfg.MaxResolution <= 0 {
		return nil, fmt.Errorf("max resolution must be positive, got %d", cfg.MaxResolution)
	}
	if cfg.DefaultResolution <= 0 || cfg.DefaultResolution > cfg.MaxResolution {
		return nil, fmt.Errorf("default resolution %d must be within 1..%d", cfg.DefaultResolution, cfg.MaxResolution)
	}
	if cfg.MaxPixels <= 0 {
		return nil, fmt.Errorf("max pixels must be positive, got %d", cfg.MaxPixels)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		decoder: decoder,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Config returns the service configuration
func (s *Service) Config() Config {
	return s.cfg
}

// ExtractAttributes reads the structural metadata of the payload. The
// payload is closed before returning.
func (s *Service) ExtractAttributes(ctx context.Context, payload io.ReadCloser) (*raster.ImageAttributes, error) {
	ds, release, err := s.open(ctx, OpAttributes, payload)
	if err != nil {
		return nil, err
	}
	defer release()

	width, height := ds.Size()
	bands := ds.BandCount()
	if width <= 0 || height <= 0 {
		return nil, invalidf(OpAttributes, "raster has invalid size %dx%d", width, height)
	}
	if bands <= 0 {
		return nil, invalidf(OpAttributes, "raster has no bands")
	}

	crs, err := ds.CRS()
	if err != nil {
		return nil, invalid(OpAttributes, err)
	}
	if crs == "" {
		return nil, invalidf(OpAttributes, "raster has no coordinate reference system")
	}

	bounds, err := ds.Bounds()
	if err != nil {
		return nil, invalid(OpAttributes, err)
	}

	release()

	return &raster.ImageAttributes{
		Width:                     width,
		Height:                    height,
		Bands:                     bands,
		CoordinateReferenceSystem: crs,
		BoundingBox:               bounds,
	}, nil
}

// RenderThumbnail renders the configured RGB composite of the payload,
// shrunk so that neither side exceeds resolution. A zero resolution selects
// the configured default. The payload is closed before returning.
func (s *Service) RenderThumbnail(ctx context.Context, payload io.ReadCloser, resolution int) (*Result, error) {
	res, err := s.resolveResolution(resolution)
	if err != nil {
		payload.Close()
		return nil, err
	}

	ds, release, err := s.open(ctx, OpThumbnail, payload)
	if err != nil {
		return nil, err
	}
	defer release()

	width, height := ds.Size()
	if width <= 0 || height <= 0 {
		return nil, invalidf(OpThumbnail, "raster has invalid size %dx%d", width, height)
	}
	if pixels := int64(width) * int64(height); pixels > s.cfg.MaxPixels {
		return nil, invalidf(OpThumbnail, "raster of %dx%d pixels exceeds the limit of %d pixels", width, height, s.cfg.MaxPixels)
	}

	count := ds.BandCount()
	bands := make([]*raster.Band, 0, 3)
	for _, idx := range s.cfg.Bands.Indices() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if idx > count {
			return nil, invalidf(OpThumbnail, "band index %d out of range (raster has %d bands)", idx, count)
		}

		band, err := ds.ReadBand(ctx, idx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, invalid(OpThumbnail, fmt.Errorf("read band %d: %w", idx, err))
		}
		bands = append(bands, band)
	}

	var bounds *raster.BoundingBox
	if box, err := ds.Bounds(); err == nil {
		bounds = &box
	}

	release()

	img, err := thumbnail.Compose(bands[0], bands[1], bands[2], s.cfg.Normalization)
	if err != nil {
		return nil, invalid(OpThumbnail, err)
	}

	fitted, err := thumbnail.Fit(img, res)
	if err != nil {
		return nil, invalid(OpThumbnail, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := thumbnail.EncodePNG(fitted)
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return &Result{
		ImageData: data,
		Width:     fitted.Bounds().Dx(),
		Height:    fitted.Bounds().Dy(),
		Bounds:    bounds,
	}, nil
}

func (s *Service) resolveResolution(resolution int) (int, error) {
	switch {
	case resolution == 0:
		return s.cfg.DefaultResolution, nil
	case resolution < 0:
		return 0, invalidf(OpThumbnail, "resolution must be a positive integer, got %d", resolution)
	case resolution > s.cfg.MaxResolution:
		return 0, invalidf(OpThumbnail, "resolution %d exceeds the maximum of %d", resolution, s.cfg.MaxResolution)
	}
	return resolution, nil
}

// open decodes the payload. The returned release func closes the dataset
// and the payload; it is safe to call more than once.
func (s *Service) open(ctx context.Context, op string, payload io.ReadCloser) (raster.Dataset, func(), error) {
	if err := ctx.Err(); err != nil {
		payload.Close()
		return nil, nil, err
	}

	ds, err := s.decoder.Open(ctx, payload)
	if err != nil {
		payload.Close()
		if errors.Is(err, raster.ErrStorage) {
			return nil, nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, invalid(op, err)
	}

	release := sync.OnceFunc(func() {
		if err := ds.Close(); err != nil {
			s.logger.Warn("failed to close raster dataset", zap.String("operation", op), zap.Error(err))
		}
		payload.Close()
	})

	return ds, release, nil
}

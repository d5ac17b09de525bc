package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"go.uber.org/zap"

	"github.com/kiesman99/rasterpeek/internal/api"
	"github.com/kiesman99/rasterpeek/internal/inspect"
	"github.com/kiesman99/rasterpeek/internal/metrics"
)

const (
	// UploadField is the multipart field carrying the raster
	UploadField = "image_file"

	// DefaultMaxUploadBytes caps the accepted request body
	DefaultMaxUploadBytes = 512 << 20

	// multipart parts beyond this size are spooled to disk by net/http
	multipartMemory = 32 << 20

	rootMessage = "Hello from FastApi Backend!"
)

// Options configures a Server
type Options struct {
	Version        string
	Service        *inspect.Service
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	MaxUploadBytes int64
}

// Server implements the ServerInterface from the generated API
type Server struct {
	startTime      time.Time
	version        string
	service        *inspect.Service
	logger         *zap.Logger
	metrics        *metrics.Metrics
	maxUploadBytes int64
}

// NewServer creates a new server instance
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}

	return &Server{
		startTime:      time.Now(),
		version:        opts.Version,
		service:        opts.Service,
		logger:         logger,
		metrics:        opts.Metrics,
		maxUploadBytes: maxUpload,
	}
}

// GetRoot implements the root endpoint
func (s *Server) GetRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, api.Message{Message: rootMessage})
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())

	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
	}

	s.writeJSON(w, http.StatusOK, response)
}

// GetImageAttributes implements the attribute extraction endpoint
func (s *Server) GetImageAttributes(w http.ResponseWriter, r *http.Request) {
	payload, err := s.openUpload(w, r)
	if err != nil {
		s.handleError(w, r, inspect.OpAttributes, err)
		return
	}

	attrs, err := s.service.ExtractAttributes(r.Context(), payload)
	if err != nil {
		s.handleError(w, r, inspect.OpAttributes, err)
		return
	}

	box := attrs.BoundingBox.Tuple()
	s.writeJSON(w, http.StatusOK, api.ImageAttributes{
		Width:                     attrs.Width,
		Height:                    attrs.Height,
		Bands:                     attrs.Bands,
		CoordinateReferenceSystem: attrs.CoordinateReferenceSystem,
		BoundingBox:               box[:],
	})
}

// GetThumbnail implements the thumbnail endpoint
func (s *Server) GetThumbnail(w http.ResponseWriter, r *http.Request, params api.GetThumbnailParams) {
	resolution := 0
	if params.Resolution != nil {
		resolution = *params.Resolution
		if resolution <= 0 {
			s.handleError(w, r, inspect.OpThumbnail, &inspect.ValidationError{
				Op:  inspect.OpThumbnail,
				Err: fmt.Errorf("resolution must be a positive integer, got %d", resolution),
			})
			return
		}
	}

	payload, err := s.openUpload(w, r)
	if err != nil {
		s.handleError(w, r, inspect.OpThumbnail, err)
		return
	}

	result, err := s.service.RenderThumbnail(r.Context(), payload, resolution)
	if err != nil {
		s.handleError(w, r, inspect.OpThumbnail, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(result.ImageData)))

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.ImageData); err != nil {
		s.logger.Warn("failed to write thumbnail", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
	}
}

// HandleParamError maps parameter binding failures of the generated
// wrapper onto the error body used everywhere else
func (s *Server) HandleParamError(w http.ResponseWriter, r *http.Request, err error) {
	s.handleError(w, r, operationForPath(r.URL.Path), &inspect.ValidationError{Op: "params", Err: err})
}

// openUpload returns the uploaded raster stream
func (s *Server) openUpload(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &uploadTooLargeError{limit: maxErr.Limit}
		}
		return nil, &inspect.ValidationError{Op: "upload", Err: fmt.Errorf("invalid multipart upload: %w", err)}
	}

	headers := r.MultipartForm.File[UploadField]
	if len(headers) == 0 {
		return nil, &inspect.ValidationError{Op: "upload", Err: fmt.Errorf("missing multipart field %q", UploadField)}
	}

	var file openapi_types.File
	file.InitFromMultipart(headers[0])

	payload, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	return payload, nil
}

type uploadTooLargeError struct {
	limit int64
}

func (e *uploadTooLargeError) Error() string {
	return fmt.Sprintf("upload exceeds the limit of %d bytes", e.limit)
}

// handleError maps operation failures onto HTTP responses
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, op string, err error) {
	requestID := middleware.GetReqID(r.Context())

	var tooLarge *uploadTooLargeError
	switch {
	case inspect.IsValidation(err):
		s.observeFailure(op, metrics.KindValidation)
		s.logger.Info("rejected request",
			zap.String("request_id", requestID),
			zap.String("operation", op),
			zap.String("reason", err.Error()))
		s.writeDetail(w, http.StatusBadRequest, err.Error())

	case errors.As(err, &tooLarge):
		s.observeFailure(op, metrics.KindValidation)
		s.writeDetail(w, http.StatusRequestEntityTooLarge, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		s.observeFailure(op, metrics.KindCancelled)
		s.logger.Warn("request timed out",
			zap.String("request_id", requestID),
			zap.String("operation", op))
		// middleware.Timeout answers 504 once the request deadline passed
		if r.Context().Err() == context.DeadlineExceeded {
			return
		}
		s.writeDetail(w, http.StatusGatewayTimeout, "request timed out")

	case errors.Is(err, context.Canceled):
		s.observeFailure(op, metrics.KindCancelled)
		s.writeDetail(w, http.StatusServiceUnavailable, "request cancelled")

	default:
		s.observeFailure(op, metrics.KindInternal)
		s.logger.Error("request failed",
			zap.String("request_id", requestID),
			zap.String("operation", op),
			zap.Error(err))
		s.writeDetail(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) observeFailure(op, kind string) {
	if s.metrics != nil {
		s.metrics.ObserveFailure(op, kind)
	}
}

// writeDetail writes the {"detail": ...} error body
func (s *Server) writeDetail(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, api.ErrorDetail{Detail: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func operationForPath(path string) string {
	switch path {
	case "/attributes":
		return inspect.OpAttributes
	case "/thumbnail":
		return inspect.OpThumbnail
	}
	return "unknown"
}

package response

import (
	"context"
	"encoding/json"
	"net/http"

	"forumkarma/internal/contextutils"
	"forumkarma/internal/services"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ===============================
// RESPONSE CONFIGURATION
// ===============================

// Config holds configuration for the response system
type Config struct {
	PrettyJSON       bool   `json:"pretty_json"`
	IncludeRequestID bool   `json:"include_request_id"`
	APIVersion       string `json:"api_version"`
}

// DefaultConfig returns production response configuration
func DefaultConfig() *Config {
	return &Config{
		PrettyJSON:       false,
		IncludeRequestID: true,
		APIVersion:       "v1",
	}
}

// ===============================
// RESPONSE TYPES
// ===============================

// APIResponse is the envelope of every successful API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Version   string      `json:"version,omitempty"`
}

// ===============================
// RESPONSE BUILDER
// ===============================

// Builder writes JSON envelopes and maps service errors to status codes
type Builder struct {
	config *Config
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewBuilder creates a new response builder
func NewBuilder(config *Config, clock clockwork.Clock, logger *zap.Logger) *Builder {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		config: config,
		clock:  clock,
		logger: logger,
	}
}

// Success creates a successful API response
func (b *Builder) Success(ctx context.Context, data interface{}) *APIResponse {
	return &APIResponse{
		Success:   true,
		Data:      data,
		RequestID: b.getRequestID(ctx),
		Timestamp: b.clock.Now().Unix(),
		Version:   b.config.APIVersion,
	}
}

// ===============================
// HTTP RESPONSE WRITERS
// ===============================

// WriteJSON writes any value as JSON with the given status
func (b *Builder) WriteJSON(w http.ResponseWriter, r *http.Request, body interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if statusCode >= 400 {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	}
	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	if b.config.PrettyJSON {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(body); err != nil {
		b.logger.Error("Failed to encode JSON response",
			zap.Error(err),
			zap.String("request_id", b.getRequestID(r.Context())),
		)
	}
}

// WriteSuccess writes a 200 envelope
func (b *Builder) WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	b.WriteJSON(w, r, b.Success(r.Context(), data), http.StatusOK)
}

// WriteError maps err to its service status code and writes the error body.
// Causes are never serialized.
func (b *Builder) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	body := services.BuildErrorResponse(err, b.getRequestID(ctx), r.URL.Path, b.clock.Now())
	status := body.Error.GetStatusCode()

	b.logError(ctx, err, body.Error)
	b.WriteJSON(w, r, body, status)
}

// WriteUnauthorized writes a 401 for requests without an acting user
func (b *Builder) WriteUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	b.WriteError(w, r, services.NewUnauthorizedError(message))
}

// ===============================
// UTILITY METHODS
// ===============================

func (b *Builder) getRequestID(ctx context.Context) string {
	if !b.config.IncludeRequestID {
		return ""
	}
	return contextutils.GetRequestID(ctx)
}

func (b *Builder) logError(ctx context.Context, err error, detail *services.ServiceError) {
	fields := []zap.Field{
		zap.String("request_id", b.getRequestID(ctx)),
		zap.String("error_type", detail.Type),
		zap.String("error_message", detail.Message),
	}

	switch detail.Type {
	case services.ErrorTypeInternal:
		b.logger.Error("Internal error", append(fields, zap.Error(err))...)
	case services.ErrorTypeValidation, services.ErrorTypeInvalidVoteType:
		b.logger.Warn("Request error", fields...)
	default:
		b.logger.Info("Request completed with error", fields...)
	}
}

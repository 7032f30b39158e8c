package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"farmer-auth/internal/models"
	"farmer-auth/internal/service"
	"farmer-auth/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// AuthHandler handles HTTP requests for farmer registration and OTP login
type AuthHandler struct {
	auth   *service.AuthCore
	logger *zap.Logger
}

func NewAuthHandler(auth *service.AuthCore, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

type PhoneRequest struct {
	Phone string `json:"phone"`
}

type VerifyRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

// VerifyResponse is the data payload of a verification call.
type VerifyResponse struct {
	Status            string         `json:"status"`
	RemainingAttempts *int           `json:"remaining_attempts,omitempty"`
	Farmer            *models.Farmer `json:"farmer,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login-otp", h.SendOTP)
		r.Post("/verify-otp", h.VerifyOTP)

		r.Get("/farmers", h.ListFarmers)
		r.Get("/farmers/{phone}", h.GetFarmer)
		r.Get("/stats", h.GetStats)
	})
}

// Register handles farmer registration
// @Router /api/auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	farmer, err := h.auth.Register(r.Context(), req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Registration failed")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(farmer, "Farmer registered successfully"))
	h.logger.Info("Farmer registered via HTTP",
		util.String("farmer_id", farmer.FarmerID),
		util.Duration("duration", time.Since(startTime)),
	)
}

// SendOTP issues a login code
// @Router /api/auth/login-otp [post]
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req PhoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	res, err := h.auth.SendOTP(r.Context(), req.Phone)
	if err != nil {
		var cd *service.CooldownError
		if errors.As(err, &cd) {
			w.Header().Set("Retry-After", strconv.Itoa(cd.WaitSeconds))
		}
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to send OTP")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(res,
		fmt.Sprintf("OTP sent to %s", util.MaskPhone(req.Phone))))
}

// VerifyOTP checks a submitted code
// @Router /api/auth/verify-otp [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	res, err := h.auth.VerifyOTP(r.Context(), req.Phone, req.OTP)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Verification failed. Please try again.")
		return
	}

	data := VerifyResponse{Status: res.Status.String()}
	if res.Status == service.VerifyMismatch {
		remaining := res.RemainingAttempts
		data.RemainingAttempts = &remaining
	}

	if !res.Success() {
		h.respondWithJSON(w, verifyStatusCode(res.Status), Response{
			Success: false,
			Data:    data,
			Error:   res.Status.String(),
			Message: res.Message(),
		})
		return
	}

	// The login already succeeded; a failed profile read only trims the payload.
	if farmer, err := h.auth.GetFarmer(r.Context(), req.Phone); err == nil {
		data.Farmer = farmer
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(data, res.Message()))
}

// GetFarmer returns one registry record
// @Router /api/auth/farmers/{phone} [get]
func (h *AuthHandler) GetFarmer(w http.ResponseWriter, r *http.Request) {
	farmer, err := h.auth.GetFarmer(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get farmer")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(farmer, "Farmer retrieved successfully"))
}

// ListFarmers returns every registry record
// @Router /api/auth/farmers [get]
func (h *AuthHandler) ListFarmers(w http.ResponseWriter, r *http.Request) {
	farmers, err := h.auth.ListFarmers(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list farmers")
		return
	}
	if farmers == nil {
		farmers = []*models.Farmer{}
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(farmers, "Farmers retrieved successfully"))
}

// GetStats reports in-memory OTP state
// @Router /api/auth/stats [get]
func (h *AuthHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(h.auth.Stats(), "Service stats retrieved successfully"))
}

func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.HealthCheck(r.Context()); err != nil {
		h.respondWithError(w, http.StatusServiceUnavailable, err, "Service unhealthy")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"status":  "healthy",
		"service": "farmer-auth",
	}, "Service is healthy"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// respondWithJSON sends a JSON response
func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response. Storage causes are logged but not
// returned to the client.
func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	if errors.Is(err, service.ErrStorage) {
		err = service.ErrStorage
	}
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *AuthHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidPhone), errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, service.ErrCooldownActive):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func verifyStatusCode(status service.VerifyStatus) int {
	switch status {
	case service.VerifyInvalidPhone:
		return http.StatusBadRequest
	case service.VerifyAttemptsExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

package signing

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/odonto/odonto/internal/domain/canonical"
	"github.com/odonto/odonto/internal/domain/records"
	"github.com/odonto/odonto/internal/platform/auth"
	"github.com/odonto/odonto/pkg/pagination"
)

type Handler struct {
	otp     *OTPService
	svc     *Service
	batches *BatchService
}

func NewHandler(otp *OTPService, svc *Service, batches *BatchService) *Handler {
	return &Handler{otp: otp, svc: svc, batches: batches}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/signatures")

	g.POST("/otp/send", h.SendOTP)
	g.POST("/otp/verify", h.VerifyOTP)

	g.POST("", h.CreateSignature)
	g.GET("/records/:recordType/:recordId", h.ListForRecord)
	g.GET("/records/:recordType/:recordId/status", h.RecordStatus)
	g.GET("/unsigned", h.ListUnsigned)

	batchGroup := g.Group("/batches", auth.RequireRole("dentist", "admin"))
	batchGroup.POST("", h.CreateBatch)
	batchGroup.GET("/:id", h.GetBatch)
	batchGroup.GET("/:id/document", h.GetBatchDocument)
	batchGroup.POST("/:id/envelope", h.CompleteEnvelope)
}

type sendOTPRequest struct {
	PatientID  uuid.UUID `json:"patient_id"`
	RecordType string    `json:"record_type"`
	RecordID   uuid.UUID `json:"record_id"`
}

func (h *Handler) SendOTP(c echo.Context) error {
	var req sendOTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil || req.RecordID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and record_id are required")
	}

	clinicID, err := clinicFromContext(c)
	if err != nil {
		return err
	}
	userID := auth.UserIDFromContext(c.Request().Context())

	result, err := h.otp.Send(c.Request().Context(), SendRequest{
		ClinicID:    clinicID,
		PatientID:   req.PatientID,
		RecordType:  canonical.RecordType(req.RecordType),
		RecordID:    req.RecordID,
		RequestedBy: userID,
		RequestIP:   c.RealIP(),
		UserAgent:   c.Request().UserAgent(),
	})
	if err != nil {
		return domainHTTPError(err)
	}
	return c.JSON(http.StatusCreated, result)
}

type verifyOTPRequest struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
	Code        string    `json:"code"`
}

func (h *Handler) VerifyOTP(c echo.Context) error {
	var req verifyOTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ChallengeID == uuid.Nil || req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "challenge_id and code are required")
	}

	result, err := h.otp.Verify(c.Request().Context(), req.ChallengeID, req.Code)
	if err != nil {
		return domainHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type createSignatureRequest struct {
	RecordType  string    `json:"record_type" form:"record_type"`
	RecordID    uuid.UUID `json:"record_id" form:"record_id"`
	SignerType  string    `json:"signer_type" form:"signer_type"`
	SignerName  string    `json:"signer_name" form:"signer_name"`
	OtpToken    string    `json:"otp_verified_token" form:"otp_verified_token"`
	ContentHash string    `json:"content_hash" form:"content_hash"`
}

// CreateSignature accepts JSON, or multipart form data when a drawn
// signature image rides along under the signature_image part.
func (h *Handler) CreateSignature(c echo.Context) error {
	var req createSignatureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.RecordID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "record_id is required")
	}

	var image []byte
	if fh, err := c.FormFile("signature_image"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable signature image")
		}
		defer f.Close()
		image, err = io.ReadAll(f)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable signature image")
		}
	}

	clinicID, err := clinicFromContext(c)
	if err != nil {
		return err
	}
	userID := auth.UserIDFromContext(c.Request().Context())

	sig, err := h.svc.CreateSignature(c.Request().Context(), CreateSignatureRequest{
		ClinicID:     clinicID,
		RecordType:   canonical.RecordType(req.RecordType),
		RecordID:     req.RecordID,
		SignerType:   SignerType(req.SignerType),
		SignerName:   req.SignerName,
		OtpToken:     req.OtpToken,
		SignerUserID: userID,
		ClientHash:   req.ContentHash,
		Image:        image,
		RequestIP:    c.RealIP(),
		UserAgent:    c.Request().UserAgent(),
	})
	if err != nil {
		return domainHTTPError(err)
	}
	return c.JSON(http.StatusCreated, sig)
}

func (h *Handler) ListForRecord(c echo.Context) error {
	recordType, recordID, err := recordRef(c)
	if err != nil {
		return err
	}
	sigs, err := h.svc.ListForRecord(c.Request().Context(), recordType, recordID)
	if err != nil {
		return domainHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"signatures": sigs})
}

func (h *Handler) RecordStatus(c echo.Context) error {
	recordType, recordID, err := recordRef(c)
	if err != nil {
		return err
	}
	status, err := h.svc.StatusFor(c.Request().Context(), recordType, recordID)
	if err != nil {
		return domainHTTPError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) ListUnsigned(c echo.Context) error {
	clinicID, err := clinicFromContext(c)
	if err != nil {
		return err
	}

	var patientID *uuid.UUID
	if p := c.QueryParam("patient_id"); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = &id
	}

	params := pagination.FromContext(c)
	rows, total, err := h.svc.Unsigned(c.Request().Context(), clinicID, patientID, params.Limit, params.Offset)
	if err != nil {
		return domainHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rows, total, params.Limit, params.Offset))
}

type createBatchRequest struct {
	SignerName string      `json:"signer_name"`
	Items      []BatchItem `json:"items"`
}

func (h *Handler) CreateBatch(c echo.Context) error {
	var req createBatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	clinicID, err := clinicFromContext(c)
	if err != nil {
		return err
	}
	userID := auth.UserIDFromContext(c.Request().Context())

	batch, err := h.batches.CreateBatch(c.Request().Context(), CreateBatchRequest{
		ClinicID:   clinicID,
		CreatedBy:  userID,
		SignerName: req.SignerName,
		RequestIP:  c.RealIP(),
		UserAgent:  c.Request().UserAgent(),
		Items:      req.Items,
	})
	if err != nil {
		return domainHTTPError(err)
	}
	return c.JSON(http.StatusCreated, batch)
}

func (h *Handler) GetBatch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	batch, err := h.batches.GetBatch(c.Request().Context(), id)
	if err != nil {
		return domainHTTPError(err)
	}
	return c.JSON(http.StatusOK, batch)
}

func (h *Handler) GetBatchDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	doc, err := h.batches.BatchDocument(c.Request().Context(), id)
	if err != nil {
		return domainHTTPError(err)
	}
	return c.Blob(http.StatusOK, "text/html; charset=utf-8", doc)
}

type completeEnvelopeRequest struct {
	Status string `json:"status"`
}

func (h *Handler) CompleteEnvelope(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req completeEnvelopeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	batch, err := h.batches.CompleteEnvelope(c.Request().Context(), id, EnvelopeStatus(req.Status))
	if err != nil {
		return domainHTTPError(err)
	}
	return c.JSON(http.StatusOK, batch)
}

func clinicFromContext(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.ClinicIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "missing clinic context")
	}
	return id, nil
}

func recordRef(c echo.Context) (canonical.RecordType, uuid.UUID, error) {
	recordType := canonical.RecordType(c.Param("recordType"))
	if !canonical.ValidRecordType(recordType) {
		return "", uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "unknown record type")
	}
	recordID, err := uuid.Parse(c.Param("recordId"))
	if err != nil {
		return "", uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	return recordType, recordID, nil
}

// domainHTTPError maps domain errors onto HTTP statuses.
func domainHTTPError(err error) error {
	var noDest *NoDestinationError
	var wrongCode *IncorrectCodeError
	var batchFail *BatchFailureError

	// BatchFailureError unwraps to its cause; match it before the
	// sentinel cases so the structured member payload survives.
	if errors.As(err, &batchFail) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]any{
			"message":     err.Error(),
			"index":       batchFail.Index,
			"record_type": batchFail.RecordType,
			"record_id":   batchFail.RecordID,
		})
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, records.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, canonical.ErrUnknownRecordType), errors.Is(err, ErrInvalidSignerType),
		errors.Is(err, ErrMissingContentHash), errors.Is(err, ErrMissingSignerName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrExpired):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	case errors.Is(err, ErrLocked):
		return echo.NewHTTPError(http.StatusLocked, err.Error())
	case errors.Is(err, ErrOtpRequired):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrAlreadySigned):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrHashMismatch):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrThrottled):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrDeliveryFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.As(err, &noDest):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &wrongCode):
		return echo.NewHTTPError(http.StatusUnauthorized, map[string]any{
			"message":       err.Error(),
			"attempts_left": wrongCode.AttemptsLeft,
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Buzz-brain/dpi-backend/internal/models"
	"github.com/Buzz-brain/dpi-backend/internal/services"
)

// DisbursementHandler exposes the admin disbursement API.
type DisbursementHandler struct {
	service   *services.DisbursementService
	validator *services.ValidationHelper
}

func NewDisbursementHandler(service *services.DisbursementService) *DisbursementHandler {
	return &DisbursementHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// CreateBatch creates and queues a disbursement batch
// @Summary Create Disbursement Batch
// @Description Freeze the beneficiary list for the given filters and queue the batch for processing
// @Tags Disbursements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateBatchRequest true "Batch definition"
// @Success 201 {object} models.Disbursement
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /disbursements [post]
func (h *DisbursementHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	adminID, ok := services.CallerID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req services.CreateBatchRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	batch, err := h.service.CreateBatch(adminID, &req)
	if err != nil {
		if errors.Is(err, services.ErrNoBeneficiaries) {
			services.SendErrorResponse(w, "No beneficiaries match the given filters", http.StatusBadRequest, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to create disbursement batch", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusCreated, map[string]any{
		"success": true,
		"data":    batch,
	})
}

// PreviewBatch counts beneficiaries matching a filter set
// @Summary Preview Beneficiary Count
// @Description Count how many users the given filters currently match, without creating a batch
// @Tags Disbursements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.DisbursementFilters true "Selection filters"
// @Success 200 {object} object{beneficiaryCount=int}
// @Failure 400 {object} services.ErrorResponse
// @Router /disbursements/preview [post]
func (h *DisbursementHandler) PreviewBatch(w http.ResponseWriter, r *http.Request) {
	var filters models.DisbursementFilters
	if err := services.DecodeJSONBody(w, r, &filters); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&filters); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	count, err := h.service.Preview(filters)
	if err != nil {
		services.SendErrorResponse(w, "Failed to preview beneficiaries", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":          true,
		"beneficiaryCount": count,
	})
}

// ListBatches lists disbursement batches
// @Summary List Disbursement Batches
// @Description List disbursement batches, newest first
// @Tags Disbursements
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum batches to return" default(50)
// @Success 200 {array} models.Disbursement
// @Failure 401 {object} services.ErrorResponse
// @Router /disbursements [get]
func (h *DisbursementHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	batches, err := h.service.ListBatches(limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to list disbursement batches", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    batches,
	})
}

// GetBatch returns one batch with its per-beneficiary results
// @Summary Get Disbursement Batch
// @Description Fetch a batch and every per-beneficiary result row
// @Tags Disbursements
// @Produce json
// @Security BearerAuth
// @Param id path int true "Batch ID"
// @Success 200 {object} models.Disbursement
// @Failure 404 {object} services.ErrorResponse
// @Router /disbursements/{id} [get]
func (h *DisbursementHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid batch id", http.StatusBadRequest, nil)
		return
	}

	batch, err := h.service.GetBatch(batchID)
	if err != nil {
		if errors.Is(err, services.ErrBatchNotFound) {
			services.SendErrorResponse(w, "Disbursement batch not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch disbursement batch", http.StatusInternalServerError, nil)
		return
	}

	results, err := h.service.Results(batchID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch batch results", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    batch,
		"results": results,
	})
}

// RetryBatch requeues the failed portion of a batch
// @Summary Retry Disbursement Batch
// @Description Reset failed beneficiaries to pending and requeue the batch; successful credits are never repeated
// @Tags Disbursements
// @Produce json
// @Security BearerAuth
// @Param id path int true "Batch ID"
// @Success 202 {object} object{success=bool}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /disbursements/{id}/retry [post]
func (h *DisbursementHandler) RetryBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid batch id", http.StatusBadRequest, nil)
		return
	}

	if err := h.service.Retry(batchID); err != nil {
		if errors.Is(err, services.ErrBatchNotFound) {
			services.SendErrorResponse(w, "Disbursement batch not found", http.StatusNotFound, nil)
			return
		}
		if errors.Is(err, services.ErrBatchNotRetryable) {
			services.SendErrorResponse(w, "Batch is still being processed", http.StatusConflict, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to retry disbursement batch", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Batch queued for retry",
	})
}

// GetFilterOptions returns the distinct values available for beneficiary filters
// @Summary Get Filter Options
// @Description List the distinct states and occupations available for beneficiary filtering
// @Tags Disbursements
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{states=[]string,occupations=[]string}
// @Router /disbursements/filter-options [get]
func (h *DisbursementHandler) GetFilterOptions(w http.ResponseWriter, r *http.Request) {
	states, occupations, err := h.service.FilterOptions()
	if err != nil {
		services.SendErrorResponse(w, "Failed to load filter options", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":     true,
		"states":      states,
		"occupations": occupations,
	})
}

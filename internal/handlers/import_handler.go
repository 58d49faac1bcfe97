package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"eboekhouden-importer/internal/importer"
	"eboekhouden-importer/internal/models"
	"eboekhouden-importer/internal/repositories"
	"eboekhouden-importer/internal/staging"
)

// maxErrorsInResponse caps the error list returned to the caller; the full
// list is in the import_errors table.
const maxErrorsInResponse = 50

const defaultUnprocessedLimit = 500

type ImportHandler struct {
	importer *importer.Importer
	cache    *staging.Cache
	batches  repositories.BatchRepository

	processingMutex sync.Mutex
	importRunning   bool
}

func NewImportHandler(imp *importer.Importer, cache *staging.Cache, batches repositories.BatchRepository) *ImportHandler {
	return &ImportHandler{
		importer: imp,
		cache:    cache,
		batches:  batches,
	}
}

func (h *ImportHandler) StartImport(w http.ResponseWriter, r *http.Request) {
	var request struct {
		FromDate     string `json:"from_date"`
		ToDate       string `json:"to_date"`
		MaxMutations int    `json:"max_mutations"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if request.FromDate != "" {
		if _, err := time.Parse("2006-01-02", request.FromDate); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid from_date format. Use YYYY-MM-DD")
			return
		}
	}
	if request.ToDate != "" {
		if _, err := time.Parse("2006-01-02", request.ToDate); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid to_date format. Use YYYY-MM-DD")
			return
		}
	}
	if request.MaxMutations < 0 {
		respondWithError(w, http.StatusBadRequest, "max_mutations must not be negative")
		return
	}

	if !h.tryAcquire() {
		respondWithError(w, http.StatusConflict, "An import is already in progress")
		return
	}
	defer h.release()

	result, err := h.importer.ImportRange(request.FromDate, request.ToDate, request.MaxMutations)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, capErrors(result))
}

func (h *ImportHandler) ImportOpeningBalances(w http.ResponseWriter, r *http.Request) {
	if !h.tryAcquire() {
		respondWithError(w, http.StatusConflict, "An import is already in progress")
		return
	}
	defer h.release()

	result, err := h.importer.ImportOpeningBalances()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, capErrors(result))
}

func (h *ImportHandler) ExportUnprocessed(w http.ResponseWriter, r *http.Request) {
	limit := defaultUnprocessedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	unprocessed, err := h.cache.ListUnprocessed(limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(unprocessed),
		"mutations": unprocessed,
	})
}

func (h *ImportHandler) ForceReimport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mutationID, err := strconv.ParseInt(vars["mutation_id"], 10, 64)
	if err != nil || mutationID <= 0 {
		respondWithError(w, http.StatusBadRequest, "mutation_id must be a positive integer")
		return
	}

	if err := h.importer.ForceReimport(mutationID); err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "Linkage cleared and mutation recached, it will be reimported on the next run",
		"mutation_id": mutationID,
	})
}

func (h *ImportHandler) GetBatchStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	batchID := vars["batch_id"]

	if batchID == "" {
		respondWithError(w, http.StatusBadRequest, "Batch ID is required")
		return
	}

	batch, err := h.batches.GetBatchByBatchID(batchID)
	if err != nil {
		if errors.Is(err, repositories.ErrBatchNotFound) {
			respondWithError(w, http.StatusNotFound, "Batch not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	batchErrors, err := h.batches.GetBatchErrors(batchID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(batchErrors) > maxErrorsInResponse {
		batchErrors = batchErrors[:maxErrorsInResponse]
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"batch":  batch,
		"errors": batchErrors,
	})
}

func (h *ImportHandler) tryAcquire() bool {
	h.processingMutex.Lock()
	defer h.processingMutex.Unlock()
	if h.importRunning {
		return false
	}
	h.importRunning = true
	return true
}

func (h *ImportHandler) release() {
	h.processingMutex.Lock()
	h.importRunning = false
	h.processingMutex.Unlock()
}

func capErrors(result *models.ImportBatchResult) *models.ImportBatchResult {
	if len(result.Errors) > maxErrorsInResponse {
		capped := *result
		capped.Errors = result.Errors[:maxErrorsInResponse]
		return &capped
	}
	return result
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

func SetupRouter(importHandler *ImportHandler, log zerolog.Logger) *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()

	api.Use(loggingMiddleware(log))
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/imports", importHandler.StartImport).Methods(http.MethodPost)
	api.HandleFunc("/imports/opening-balance", importHandler.ImportOpeningBalances).Methods(http.MethodPost)
	api.HandleFunc("/imports/unprocessed", importHandler.ExportUnprocessed).Methods(http.MethodGet)
	api.HandleFunc("/imports/force-reimport/{mutation_id}", importHandler.ForceReimport).Methods(http.MethodPost)
	api.HandleFunc("/imports/batches/{batch_id}", importHandler.GetBatchStatus).Methods(http.MethodGet)

	router.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)

	return router
}

func loggingMiddleware(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debug().Str("method", r.Method).Stringer("url", r.URL).Msg("request")
			next.ServeHTTP(w, r)
		})
	}
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
	}
	respondWithJSON(w, http.StatusOK, response)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

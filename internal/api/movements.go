package api

import (
	"net/http"
	"strconv"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// GetMovementsHandler возвращает движения из памяти в порядке добавления
func (h *Handlers) GetMovementsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Store.List())
}

// GetMovementsHistoryHandler возвращает сохранённые в БД движения, новые первыми
func (h *Handlers) GetMovementsHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeError(w, http.StatusNotFound, "Movement history is not configured")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	movements, err := h.deps.History.ListMovements(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list movements", "error", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	writeJSON(w, http.StatusOK, movements)
}

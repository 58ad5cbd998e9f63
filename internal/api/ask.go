package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tablechat/tablechat/internal/answer"
	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/nl2sql"
	"github.com/tablechat/tablechat/internal/store"
)

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	SQL        string   `json:"sql"`
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	Attempts   int      `json:"attempts"`
	DurationMs int64    `json:"duration_ms"`
}

type rawQueryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type rawQueryResponse struct {
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	DurationMs int64    `json:"duration_ms"`
}

func handleAsk(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AI_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	if err := requireRole(r, roleAsk); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	sess, ok := sessionFromRequest(deps, w, r)
	if !ok {
		return
	}
	if sess.DatasetName() == "" {
		writeError(r.Context(), w, http.StatusConflict, "DATASET_REQUIRED", "session has no dataset loaded", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	answerer := &answer.Answerer{
		Translator:    deps.Translator,
		Store:         sess,
		MaxFixRetries: cfg.AI.MaxFixRetries,
		RowLimit:      cfg.Session.RowLimit,
		Logger:        deps.Logger,
	}
	answered, err := answerer.Answer(r.Context(), request.Question)
	if err != nil {
		writeAnswerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		SQL:        answered.SQL,
		Columns:    answered.Columns,
		Rows:       answered.Rows,
		Attempts:   answered.Attempts,
		DurationMs: answered.Duration.Milliseconds(),
	})
}

func handleRawQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, roleAsk); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	sess, ok := sessionFromRequest(deps, w, r)
	if !ok {
		return
	}
	if sess.DatasetName() == "" {
		writeError(r.Context(), w, http.StatusConflict, "DATASET_REQUIRED", "session has no dataset loaded", false, nil)
		return
	}

	var request rawQueryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if !isAllowedSQL(request.SQL) {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only read-only SELECT/WITH queries are allowed", false, nil)
		return
	}

	rowLimit := request.RowLimit
	if rowLimit <= 0 || rowLimit > cfg.Session.RowLimit {
		rowLimit = cfg.Session.RowLimit
	}
	result, err := sess.Execute(r.Context(), request.SQL, rowLimit)
	if err != nil {
		var execErr *store.ExecutionError
		if errors.As(err, &execErr) {
			writeError(r.Context(), w, http.StatusBadRequest, "EXECUTION_FAILED", "query execution failed", false, map[string]any{
				"sql":          execErr.SQL,
				"engine_error": execErr.Message,
			})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "QUERY_FAILED", "query failed", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, rawQueryResponse{
		Columns:    result.Columns,
		Rows:       result.Rows,
		DurationMs: result.Duration.Milliseconds(),
	})
}

func writeAnswerError(w http.ResponseWriter, r *http.Request, err error) {
	var genErr *nl2sql.GenerationError
	if errors.As(err, &genErr) {
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", "sql generation failed", true, map[string]any{"details": genErr.Error()})
		return
	}
	var exhausted *answer.RetriesExhausted
	if errors.As(err, &exhausted) {
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "RETRIES_EXHAUSTED", "no executable SQL after repeated fixes", false, map[string]any{
			"sql":          exhausted.SQL,
			"attempts":     exhausted.Attempts,
			"engine_error": exhausted.LastErr.Message,
		})
		return
	}
	var execErr *store.ExecutionError
	if errors.As(err, &execErr) {
		writeError(r.Context(), w, http.StatusBadRequest, "EXECUTION_FAILED", "query execution failed", false, map[string]any{
			"sql":          execErr.SQL,
			"engine_error": execErr.Message,
		})
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "ANSWER_FAILED", "failed to answer question", true, map[string]any{"details": err.Error()})
}

func isAllowedSQL(sqlText string) bool {
	normalized := strings.ToLower(strings.TrimSpace(sqlText))
	return strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with")
}

package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/storage"
	"github.com/tablechat/tablechat/internal/store"
)

type exportRequest struct {
	SQL       string `json:"sql"`
	ObjectKey string `json:"object_key"`
}

type exportResponse struct {
	ObjectKey string `json:"object_key"`
	Rows      int    `json:"rows"`
	Bytes     int64  `json:"bytes"`
}

func handleExport(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Objects == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "OBJECT_STORE_NOT_CONFIGURED", "object store is not configured", false, nil)
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

	var request exportRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid export request body", false, map[string]any{"details": err.Error()})
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
	if strings.TrimSpace(request.ObjectKey) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "OBJECT_KEY_REQUIRED", "object_key is required", false, nil)
		return
	}

	result, err := sess.Execute(r.Context(), request.SQL, cfg.Session.RowLimit)
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

	body, err := encodeCSV(result)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_ENCODE_FAILED", "failed to encode result as CSV", false, map[string]any{"details": err.Error()})
		return
	}

	info, err := deps.Objects.Put(r.Context(), request.ObjectKey, bytes.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: "text/csv"})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_ERROR", "failed to write export object", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, exportResponse{
		ObjectKey: info.Key,
		Rows:      len(result.Rows),
		Bytes:     int64(len(body)),
	})
}

func encodeCSV(result store.Result) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(result.Columns); err != nil {
		return nil, err
	}
	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) && row[i] != nil {
				record[i] = fmt.Sprint(row[i])
			}
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/session"
	"github.com/tablechat/tablechat/internal/storage"
	"github.com/tablechat/tablechat/internal/store"
	"github.com/tablechat/tablechat/internal/store/duckdb"
)

const (
	roleUpload = "upload"
	roleAsk    = "ask"
)

// requireRole enforces roles only when an identity is present; with auth
// disabled there is no identity and every role check passes.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

type createSessionRequest struct {
	ObjectPath string `json:"object_path"`
}

type sessionResponse struct {
	SessionID string          `json:"session_id"`
	Dataset   string          `json:"dataset"`
	Columns   []string        `json:"columns"`
	RowCount  int64           `json:"row_count"`
	Preview   previewResponse `json:"preview"`
}

type previewResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func handleCreateSession(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session manager is not configured", false, nil)
		return
	}
	if err := requireRole(r, roleUpload); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	src, cleanup, err := datasetSource(cfg, deps, w, r)
	if err != nil {
		// datasetSource has already written the error response.
		return
	}
	defer cleanup()

	sess, err := deps.Sessions.Create()
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_CREATE_FAILED", "failed to create session", true, map[string]any{"details": err.Error()})
		return
	}

	schema, err := sess.Load(r.Context(), src)
	if err != nil {
		deps.Sessions.Delete(sess.ID())
		writeError(r.Context(), w, http.StatusBadRequest, "DATASET_LOAD_FAILED", "failed to load dataset", false, map[string]any{"details": err.Error()})
		return
	}

	preview, err := previewRows(r, cfg, sess)
	if err != nil {
		deps.Sessions.Delete(sess.ID())
		writeError(r.Context(), w, http.StatusInternalServerError, "PREVIEW_FAILED", "failed to preview dataset", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: sess.ID(),
		Dataset:   src.Name,
		Columns:   schema.Columns,
		RowCount:  schema.RowCount,
		Preview:   preview,
	})
}

func handleGetSession(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromRequest(deps, w, r)
	if !ok {
		return
	}
	if sess.DatasetName() == "" {
		writeError(r.Context(), w, http.StatusConflict, "DATASET_REQUIRED", "session has no dataset loaded", false, nil)
		return
	}

	preview, err := previewRows(r, cfg, sess)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PREVIEW_FAILED", "failed to preview dataset", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: sess.ID(),
		Dataset:   sess.DatasetName(),
		Columns:   sess.Columns(),
		RowCount:  sess.RowCount(),
		Preview:   preview,
	})
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, roleUpload); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	sessionID := strings.TrimSpace(r.PathValue("session"))
	if deps.Sessions == nil || sessionID == "" {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, nil)
		return
	}
	if !deps.Sessions.Delete(sessionID) {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, map[string]any{"session_id": sessionID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "session_id": sessionID})
}

// datasetSource resolves the uploaded dataset from either a multipart file or
// an object-store path. On failure it writes the HTTP error itself and returns
// a non-nil error so the caller can bail out.
func datasetSource(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) (store.Source, func(), error) {
	noop := func() {}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Session.MaxDatasetBytes)
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "DATASET_TOO_LARGE", "dataset exceeds the upload limit", false, map[string]any{"max_bytes": cfg.Session.MaxDatasetBytes})
				return store.Source{}, noop, err
			}
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MULTIPART", "invalid multipart request body", false, map[string]any{"details": err.Error()})
			return store.Source{}, noop, err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "multipart field \"file\" is required", false, nil)
			return store.Source{}, noop, err
		}
		format, err := formatFromName(header.Filename)
		if err != nil {
			_ = file.Close()
			writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), false, nil)
			return store.Source{}, noop, err
		}
		return store.Source{Name: header.Filename, Format: format, Reader: file}, func() { _ = file.Close() }, nil
	}

	var request createSessionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid session request body", false, map[string]any{"details": err.Error()})
		return store.Source{}, noop, err
	}
	if strings.TrimSpace(request.ObjectPath) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATASET_REQUIRED", "upload a file or provide object_path", false, nil)
		return store.Source{}, noop, errors.New("dataset required")
	}
	if deps.Objects == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "OBJECT_STORE_NOT_CONFIGURED", "object store is not configured", false, nil)
		return store.Source{}, noop, errors.New("object store not configured")
	}

	objectPath := strings.TrimSpace(request.ObjectPath)
	format, err := formatFromName(objectPath)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), false, nil)
		return store.Source{}, noop, err
	}

	info, err := deps.Objects.Stat(r.Context(), objectPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "OBJECT_NOT_FOUND", "dataset object was not found", false, map[string]any{"object_path": objectPath})
			return store.Source{}, noop, err
		}
		writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_ERROR", "failed to stat dataset object", true, map[string]any{"details": err.Error()})
		return store.Source{}, noop, err
	}
	if cfg.Session.MaxDatasetBytes > 0 && info.Size > cfg.Session.MaxDatasetBytes {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "DATASET_TOO_LARGE", "dataset exceeds the upload limit", false, map[string]any{"max_bytes": cfg.Session.MaxDatasetBytes, "object_bytes": info.Size})
		return store.Source{}, noop, errors.New("dataset too large")
	}

	reader, err := deps.Objects.Get(r.Context(), objectPath)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_ERROR", "failed to read dataset object", true, map[string]any{"details": err.Error()})
		return store.Source{}, noop, err
	}
	return store.Source{Name: path.Base(objectPath), Format: format, Reader: reader}, func() { _ = reader.Close() }, nil
}

func sessionFromRequest(deps Dependencies, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sessionID := strings.TrimSpace(r.PathValue("session"))
	if deps.Sessions == nil || sessionID == "" {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, nil)
		return nil, false
	}
	sess, ok := deps.Sessions.Get(sessionID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, map[string]any{"session_id": sessionID})
		return nil, false
	}
	return sess, true
}

func previewRows(r *http.Request, cfg config.Config, sess *session.Session) (previewResponse, error) {
	limit := cfg.Session.PreviewRows
	if limit <= 0 {
		limit = 5
	}
	result, err := sess.Execute(r.Context(), fmt.Sprintf("SELECT * FROM %s", duckdb.TableName), limit)
	if err != nil {
		return previewResponse{}, err
	}
	return previewResponse{Columns: result.Columns, Rows: result.Rows}, nil
}

func formatFromName(name string) (store.Format, error) {
	switch strings.ToLower(path.Ext(strings.TrimSpace(name))) {
	case ".csv":
		return store.FormatCSV, nil
	case ".parquet":
		return store.FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported dataset format: %q (want .csv or .parquet)", path.Ext(name))
	}
}

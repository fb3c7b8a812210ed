package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"commentary/api/internal/auth"
	"commentary/api/internal/authz"
	"commentary/api/internal/search"
	"commentary/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)

	// /{orgNumber}/comments — canonical paginated org listing
	if len(parts) == 2 && parts[1] == "comments" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.handleListOrgComments(w, r, parts[0])
		return
	}

	// /{orgNumber}/comments/search
	if len(parts) == 3 && parts[1] == "comments" && parts[2] == "search" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.handleSearchComments(w, r, parts[0])
		return
	}

	// /{orgNumber}/{topicId}/comments
	if len(parts) == 3 && parts[2] == "comments" {
		s.handleTopicComments(w, r, parts[0], parts[1])
		return
	}

	// /{orgNumber}/{topicId}/comments/{commentId}
	if len(parts) == 4 && parts[2] == "comments" {
		s.handleSingleComment(w, r, parts[0], parts[1], parts[3])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleListOrgComments(w http.ResponseWriter, r *http.Request, orgNumber string) {
	claims, ok := s.requireClaims(w, r)
	if !ok {
		return
	}
	if !authz.Allows(claims.Authorities, orgNumber, authz.LevelRead) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	page, ok := intQuery(w, r, "page", 1)
	if !ok {
		return
	}
	size, ok := intQuery(w, r, "size", 10)
	if !ok {
		return
	}
	sortBy := queryDefault(r, "sort_by", "datetime")
	sortOrder := queryDefault(r, "sort_order", "desc")

	payload, err := s.service.ListPaged(r.Context(), orgNumber, page, size, sortBy, sortOrder)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSearchComments(w http.ResponseWriter, r *http.Request, orgNumber string) {
	claims, ok := s.requireClaims(w, r)
	if !ok {
		return
	}
	if !authz.Allows(claims.Authorities, orgNumber, authz.LevelRead) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	limit, ok := intQuery(w, r, "limit", 20)
	if !ok {
		return
	}
	offset, ok := intQuery(w, r, "offset", 0)
	if !ok {
		return
	}

	payload := s.service.SearchComments(r.Context(), search.Query{
		Text:      strings.TrimSpace(r.URL.Query().Get("q")),
		OrgNumber: orgNumber,
		Limit:     limit,
		Offset:    offset,
	})
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleTopicComments(w http.ResponseWriter, r *http.Request, orgNumber, topicID string) {
	claims, ok := s.requireClaims(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		if !authz.Allows(claims.Authorities, orgNumber, authz.LevelRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		items, err := s.service.ListByOrgAndTopic(r.Context(), orgNumber, topicID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	if r.Method == http.MethodPost {
		if !authz.Allows(claims.Authorities, orgNumber, authz.LevelWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		// Writes need an author; reads work with an authorities-only token.
		if claims.UserName == "" {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Acting user required", nil)
			return
		}
		var body struct {
			Comment string `json:"comment"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Comment) == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "comment is required", nil)
			return
		}

		allowed, err := s.service.AllowWrite(r.Context(), claims.UserName)
		if err != nil {
			// Fail open: the limiter is abuse control, not authorization.
			log.Printf("rate limiter error for %s: %v", claims.UserName, err)
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many comments, slow down", nil)
			return
		}

		payload, err := s.service.Create(r.Context(), orgNumber, topicID, body.Comment, claims.UserName, claims.Name, claims.Email)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleSingleComment(w http.ResponseWriter, r *http.Request, orgNumber, topicID, commentID string) {
	claims, ok := s.requireClaims(w, r)
	if !ok {
		return
	}

	level := authz.LevelRead
	if r.Method == http.MethodPut || r.Method == http.MethodDelete {
		level = authz.LevelWrite
	}
	if !authz.Allows(claims.Authorities, orgNumber, level) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	if level == authz.LevelWrite && claims.UserName == "" {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Acting user required", nil)
		return
	}

	record, err := s.service.GetRecord(r.Context(), commentID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if record.OrgNumber != orgNumber || record.TopicID != topicID {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.service.View(r.Context(), record))

	case http.MethodPut:
		if !s.mayMutate(claims, record) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Comment string `json:"comment"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Update(r.Context(), commentID, body.Comment, claims.UserName)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case http.MethodDelete:
		if !s.mayMutate(claims, record) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		if err := s.service.Delete(r.Context(), record); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// mayMutate allows the comment's author, or anyone holding org admin, to
// update or delete it.
func (s *HTTPServer) mayMutate(claims auth.Claims, record store.Comment) bool {
	if record.UserID != "" && record.UserID == claims.UserName {
		return true
	}
	return authz.Allows(claims.Authorities, record.OrgNumber, authz.LevelAdmin)
}

func (s *HTTPServer) requireClaims(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Claims{}, false
	}
	claims, err := auth.ParseToken(s.service.JWTSecret(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Claims{}, false
	}
	return claims, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryDefault(r *http.Request, key, fallback string) string {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return fallback
	}
	return value
}

func intQuery(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", key+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestRequestLogger_BasicFields проверяет стандартные поля строки запроса.
func TestRequestLogger_BasicFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/files/abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	out := buf.String()
	for _, part := range []string{`"method":"DELETE"`, `"path":"/api/v1/files/abc"`, `"status":204`} {
		if !strings.Contains(out, part) {
			t.Errorf("строка лога %q не содержит %s", out, part)
		}
	}
}

// TestRequestLogger_IncludesAuthenticatedOwner проверяет, что владелец
// из JWT попадает в строку запроса, хотя auth middleware стоит глубже
// в цепочке.
func TestRequestLogger_IncludesAuthenticatedOwner(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	auth := newTestJWTAuth()

	handler := RequestLogger(logger)(auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	claims := jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, claims))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !strings.Contains(buf.String(), `"owner":"user-42"`) {
		t.Errorf("строка лога %q не содержит владельца", buf.String())
	}
}

// TestRequestLogger_NoOwnerForAnonymous проверяет, что для
// неаутентифицированного запроса поле owner не пишется.
func TestRequestLogger_NoOwnerForAnonymous(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	auth := newTestJWTAuth()

	handler := RequestLogger(logger)(auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ожидался статус 401, получен %d", rec.Code)
	}
	if strings.Contains(buf.String(), `"owner"`) {
		t.Errorf("строка лога %q содержит owner для анонимного запроса", buf.String())
	}
}

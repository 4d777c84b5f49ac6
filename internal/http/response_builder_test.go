package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Data(map[string]int{"created": 2}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"created":2}` {
		t.Errorf("Body = %q", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("missing default headers: %v", w.Header())
	}
}

func TestJSONResponseBuilder_NoContent(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusNoContent).
		Data(map[string]string{"ignored": "yes"}).
		Write(w)

	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Errorf("got status %d with body %q", w.Code, w.Body.String())
	}
}

func TestJSONResponseBuilder_CustomHeader(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Header("Location", "/api/bills/b1").
		Data(struct{}{}).
		Write(w)

	if got := w.Header().Get("Location"); got != "/api/bills/b1" {
		t.Errorf("Location = %q", got)
	}
}

func TestJSONResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().Data(map[string]any{"bad": make(chan int)}).Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want 500", w.Code)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name     string
		builder  *JSONResponseBuilder
		wantCode int
		wantBody string
	}{
		{"bad request", BadRequestError("malformed"), http.StatusBadRequest, `{"error":"malformed"}`},
		{"unprocessable", UnprocessableEntityError("invalid input: x"), http.StatusUnprocessableEntity, `{"error":"invalid input: x"}`},
		{"not found", NotFoundError("not found"), http.StatusNotFound, `{"error":"not found"}`},
		{"internal", InternalServerError("internal error"), http.StatusInternalServerError, `{"error":"internal error"}`},
		{"unavailable", ServiceUnavailableError("down"), http.StatusServiceUnavailable, `{"error":"down"}`},
		{"too many", TooManyRequestsError(), http.StatusTooManyRequests, `{"error":"rate limit exceeded, retry later"}`},
		{"escapes markup", BadRequestError("<b>x</b>"), http.StatusBadRequest, `{"error":"<b>x</b>"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)

			if w.Code != tt.wantCode {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantCode)
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.wantBody {
				t.Errorf("Body = %s, want %s", got, tt.wantBody)
			}
		})
	}
}

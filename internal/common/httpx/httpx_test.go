package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/common/logger"
)

func TestWriteErrorMapsKinds(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{apperr.Validation("cart is empty"), http.StatusBadRequest},
		{apperr.Conflict("bill exists"), http.StatusConflict},
		{apperr.InvalidState("voided"), http.StatusUnprocessableEntity},
		{apperr.NotFound("no bill"), http.StatusNotFound},
		{apperr.Timeout("store unavailable", nil), http.StatusGatewayTimeout},
		{fmt.Errorf("wrapped: %w", apperr.Conflict("table busy")), http.StatusConflict},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)
			assert.Equal(t, tt.code, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.EqualValues(t, tt.code, body["status"])
			if tt.code == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["detail"])
			}
		})
	}
}

type decodeTarget struct {
	Name   string `json:"name" valid:"required"`
	Method string `json:"method" valid:"in(cash|card)"`
}

func TestDecodeJSON(t *testing.T) {
	decode := func(body string) error {
		var dst decodeTarget
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		return DecodeJSON(r, &dst)
	}

	assert.NoError(t, decode(`{"name":"x","method":"cash"}`))
	assert.NoError(t, decode(`{"name":"x"}`))
	assert.ErrorIs(t, decode(``), apperr.ErrValidation)
	assert.ErrorIs(t, decode(`{"name":`), apperr.ErrValidation)
	assert.ErrorIs(t, decode(`{"name":"x","extra":1}`), apperr.ErrValidation)
	assert.ErrorIs(t, decode(`{"method":"cash"}`), apperr.ErrValidation)
	assert.ErrorIs(t, decode(`{"name":"x","method":"gold"}`), apperr.ErrValidation)
}

func TestPathID(t *testing.T) {
	mux := http.NewServeMux()
	var got string
	var gotErr error
	mux.HandleFunc("GET /bills/{id}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = PathID(r, "id")
	})

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bills/0190a0b4-3c1e-7cc3-9a52-5b1f0d2c4e11", nil))
	require.NoError(t, gotErr)
	assert.Equal(t, "0190a0b4-3c1e-7cc3-9a52-5b1f0d2c4e11", got)

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bills/42", nil))
	assert.ErrorIs(t, gotErr, apperr.ErrValidation)
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=20&offset=-1&bad=x", nil)
	assert.Equal(t, 20, QueryInt(r, "limit", 50))
	assert.Equal(t, 0, QueryInt(r, "offset", 0))
	assert.Equal(t, 7, QueryInt(r, "bad", 7))
	assert.Equal(t, 50, QueryInt(r, "missing", 50))
}

func TestIdentityAndRequestID(t *testing.T) {
	var seenActor, seenReq string
	var seenRole string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := ActorFrom(r.Context())
		seenActor, seenRole = a.ID, a.Role
		seenReq = logger.RequestID(r.Context())
	}), RequestID, Identity)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderUserID, "u-7")
	r.Header.Set(HeaderUserRole, "Manager")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, "u-7", seenActor)
	assert.Equal(t, "manager", seenRole)
	assert.NotEmpty(t, seenReq)
	assert.Equal(t, seenReq, rec.Header().Get(HeaderRequestID))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "anonymous", seenActor)
}

func TestRateLimit(t *testing.T) {
	mw, err := RateLimit("2-M")
	require.NoError(t, err)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	_, err = RateLimit("lots")
	assert.Error(t, err)
}

func TestRecoverAndLogging(t *testing.T) {
	var buf bytes.Buffer
	lg := logger.NewWithWriter("test", &buf, "debug")
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), Logging(lg), Recover(lg))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "http_panic")
	assert.Contains(t, buf.String(), "http_request_failed")
}

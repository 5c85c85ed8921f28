package test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// Format of Request helper ExecuteAPITest() handles
type RequestAPITest struct {
	Method     string            // Method of API request - [GET, POST, PUT, DELETE . . .]
	Path       string            // API Path
	Body       any               // Request Body, marshalled into JSON unless it's already []byte
	WantStatus int               // Expected Response status
	Headers    map[string]string // Request headers
}

// Helper to execute API tests in Tidewatch. Returns the recorder for further assertions.
func ExecuteAPITest(t *testing.T, router *gin.Engine, request RequestAPITest) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	switch b := request.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req, reqerr := http.NewRequest(request.Method, request.Path, body)
	require.NoError(t, reqerr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, val := range request.Headers {
		req.Header.Set(key, val)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, request.WantStatus, w.Code, "unexpected status, body: %s", w.Body.String())
	return w
}

// DecodeJSON unmarshals a recorded response body into v.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

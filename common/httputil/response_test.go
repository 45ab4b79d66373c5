package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name   string
		status int
		data   interface{}
	}{
		{"map", http.StatusOK, map[string]string{"status": "ok"}},
		{"struct", http.StatusAccepted, struct{ Topic string }{"AWS-WonScore/ECS/services/refresh"}},
		{"slice", http.StatusOK, []string{"alpha", "beta", "prod"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.status, tt.data)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.True(t, json.Valid(w.Body.Bytes()))
		})
	}
}

func TestWriteJSON_Unencodable(t *testing.T) {
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() { WriteJSON(w, http.StatusOK, make(chan int)) })
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusConflict, "refresh_throttled", "refresh requested too recently")

	assert.Equal(t, http.StatusConflict, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, ErrorResponse{Error: "refresh requested too recently", Code: "refresh_throttled"}, body)
}

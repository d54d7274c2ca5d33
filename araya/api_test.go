package araya

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t testing.TB) *API {
	t.Helper()
	config := DefaultConfig().API
	// no backend keys configured: /chat always uses the fallback
	return newAPI(config, newTestDB(t), slog.Default(), http.DefaultClient)
}

func doRequest(
	t testing.TB,
	api *API,
	method string,
	path string,
	body any,
) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)

	decoded := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestAPIChatFallback(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	w, body := doRequest(
		t,
		api,
		http.MethodPost,
		"/chat",
		map[string]any{"message": "hello araya", "user_id": "100"},
	)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, sourceAIFallback, body["source"])
	assert.NotEmpty(t, body["response"])
	assert.Equal(t, true, body["memory_saved"])
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))

	// conversation persisted with the fallback source tag
	var conversation Conversation
	require.NoError(
		t,
		api.db.DB().Where("user_id = ?", "100").First(&conversation).Error,
	)
	assert.Equal(t, "hello araya", conversation.UserMessage)
	assert.Equal(t, sourceAIFallback, conversation.SourceAI)
	assert.NotEmpty(t, conversation.RequestID)
}

func TestAPIChatNoMessage(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	w, body := doRequest(t, api, http.MethodPost, "/chat", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No message provided", body["error"])

	w, body = doRequest(
		t,
		api,
		http.MethodPost,
		"/chat",
		map[string]any{"message": "   "},
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No message provided", body["error"])
}

func TestAPIHealth(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	w, body := doRequest(t, api, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", body["status"])
	assert.Equal(t, "ARAYA API", body["service"])
}

func TestAPIRoot(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	w, body := doRequest(t, api, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ARAYA API", body["service"])
	assert.Contains(t, body["endpoints"], "/chat")
}

func TestAPIStatus(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	_, _ = doRequest(
		t,
		api,
		http.MethodPost,
		"/chat",
		map[string]any{"message": "hi"},
	)

	w, body := doRequest(t, api, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", body["araya"])
	assert.Equal(t, float64(1), body["conversations"])

	backends, ok := body["ai_backends"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "not configured", backends[sourceAIDeepSeek])
	assert.Equal(t, "not configured", backends[sourceAIOpenAI])
}

func TestAPIHistory(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	for i := 0; i < 3; i++ {
		userID := "100"
		if i == 2 {
			userID = "200"
		}
		_, _ = doRequest(
			t,
			api,
			http.MethodPost,
			"/chat",
			map[string]any{
				"message": fmt.Sprintf("message %d", i),
				"user_id": userID,
			},
		)
	}

	w, body := doRequest(t, api, http.MethodGet, "/history", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["count"])

	w, body = doRequest(t, api, http.MethodGet, "/history?user_id=100", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])

	w, body = doRequest(t, api, http.MethodGet, "/history?user_id=100&limit=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])
}

func TestFallbackResponse(t *testing.T) {
	t.Parallel()

	// keyword-specific responses
	assert.Contains(t, fallbackResponse("hello there"), "ARAYA")
	assert.NotEmpty(t, fallbackResponse("can you help me?"))
	assert.NotEmpty(t, fallbackResponse("what is your status"))
	// generic fallback for anything else
	assert.NotEmpty(t, fallbackResponse("zzz unmatched zzz"))
}

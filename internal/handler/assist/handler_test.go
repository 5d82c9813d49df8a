package assist

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/eray/backend/internal/middleware"
	"github.com/zhouzirui/eray/backend/internal/model/llm"
	"github.com/zhouzirui/eray/backend/internal/service/ai"
)

type stubWriter struct {
	modelKey string
	existing []string
	err      error
}

func (s *stubWriter) GenerateSummary(_ context.Context, modelKey, content string, onToken func(string)) (string, error) {
	s.modelKey = modelKey
	if s.err != nil {
		return "", s.err
	}
	onToken("一篇")
	onToken("关于 Go 的文章")
	return "一篇关于 Go 的文章", nil
}

func (s *stubWriter) GenerateTags(_ context.Context, modelKey, _, _ string, existing []string) ([]string, error) {
	s.modelKey = modelKey
	s.existing = existing
	if s.err != nil {
		return nil, s.err
	}
	return []string{"并发"}, nil
}

func setup(writer Writer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Scope("secret"))
	New(writer, llm.NewRegistry(llm.Seed(""), "deepseek-chat")).RegisterRoutes(r)
	return r
}

func post(r http.Handler, path, body string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if admin {
		req.Header.Set("Authorization", "Bearer secret")
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestAssistRequiresAdmin(t *testing.T) {
	r := setup(&stubWriter{})
	assert.Equal(t, http.StatusForbidden, post(r, "/assist/summary", `{"content":"x"}`, false).Code)
	assert.Equal(t, http.StatusForbidden, post(r, "/assist/tags", `{"title":"x"}`, false).Code)
}

func TestSummaryStreamsTokens(t *testing.T) {
	writer := &stubWriter{}
	resp := post(setup(writer), "/assist/summary", `{"content":"正文"}`, true)

	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Equal(t, 3, strings.Count(body, "data: "))
	assert.Contains(t, body, `"event":"done"`)
	assert.Contains(t, body, "一篇关于 Go 的文章")
	assert.Equal(t, "deepseek-chat", writer.modelKey)
}

func TestSummaryReportsFailureInStream(t *testing.T) {
	resp := post(setup(&stubWriter{err: ai.ErrProviderUnavailable}), "/assist/summary", `{"content":"正文","modelKey":"gemini-flash"}`, true)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"event":"error"`)
}

func TestSummaryRejectsEmptyContent(t *testing.T) {
	resp := post(setup(&stubWriter{}), "/assist/summary", `{"content":"  "}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTags(t *testing.T) {
	writer := &stubWriter{}
	resp := post(setup(writer), "/assist/tags", `{"title":"Go","content":"goroutine","existing":["Go"],"modelKey":"gemini-flash"}`, true)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"tags":["并发"]}`, resp.Body.String())
	assert.Equal(t, "gemini-flash", writer.modelKey)
	assert.Equal(t, []string{"Go"}, writer.existing)

	resp = post(setup(&stubWriter{err: errors.New("boom")}), "/assist/tags", `{"title":"Go"}`, true)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

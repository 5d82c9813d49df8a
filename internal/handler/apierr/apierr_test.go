package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/eray/backend/internal/model/llm"
	"github.com/zhouzirui/eray/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/eray/backend/internal/service/chat"
	"github.com/zhouzirui/eray/backend/internal/service/conversation"
)

func TestStatus(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("open: %w", chatservice.ErrSessionNotFound): http.StatusNotFound,
		chatservice.ErrArticleNotFound:                         http.StatusNotFound,
		conversation.ErrMessageNotFound:                        http.StatusNotFound,
		conversation.ErrEmptyMessage:                           http.StatusBadRequest,
		conversation.ErrInvalidIndex:                           http.StatusBadRequest,
		fmt.Errorf("%w: x", llm.ErrModelNotFound):              http.StatusBadRequest,
		conversation.ErrNoActiveSession:                        http.StatusConflict,
		ai.ErrProviderUnavailable:                              http.StatusServiceUnavailable,
		errors.New("disk on fire"):                             http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, Status(err), err.Error())
	}
}

func TestRespondHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Respond(rec, errors.New("dsn password=secret"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = httptest.NewRecorder()
	Respond(rec, chatservice.ErrSessionNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "session not found")
}

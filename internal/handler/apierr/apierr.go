// Package apierr 把领域错误映射为 HTTP 状态码。
package apierr

import (
	"errors"
	"log"
	"net/http"

	"github.com/zhouzirui/eray/backend/internal/model/llm"
	"github.com/zhouzirui/eray/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/eray/backend/internal/service/chat"
	"github.com/zhouzirui/eray/backend/internal/service/conversation"
	"github.com/zhouzirui/eray/backend/pkg/utils"
)

// ErrBadRequest marks malformed requests that have no domain sentinel.
var ErrBadRequest = errors.New("bad request")

// Status returns the HTTP status for err.
func Status(err error) int {
	switch {
	case errors.Is(err, chatservice.ErrSessionNotFound),
		errors.Is(err, chatservice.ErrArticleNotFound),
		errors.Is(err, conversation.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, conversation.ErrNotUserMessage),
		errors.Is(err, conversation.ErrInvalidIndex),
		errors.Is(err, conversation.ErrNoModel),
		errors.Is(err, chatservice.ErrInvalidSession),
		errors.Is(err, llm.ErrModelNotFound),
		errors.Is(err, ai.ErrUnknownModel),
		errors.Is(err, ai.ErrEmptySource),
		errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, ai.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as a JSON error body. Internal errors are logged and
// hidden from the client.
func Respond(w http.ResponseWriter, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		log.Printf("[http] internal error: %v", err)
		utils.RespondError(w, status, "internal error")
		return
	}
	utils.RespondError(w, status, err.Error())
}

package chat_test

import (
	"context"
	"testing"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/eray/backend/internal/service/chat"
)

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := chatservice.NewMemoryStore()
	ctx := context.Background()

	messages := []chat.Message{{ID: "u1", Role: chat.RoleUser, Content: "原文"}}
	if err := store.SaveSession(ctx, chat.Session{ID: "s"}, messages, chat.ScopePublic); err != nil {
		t.Fatalf("SaveSession err: %v", err)
	}
	messages[0].Content = "调用方修改"

	_, got, err := store.GetSession(ctx, "s", chat.ScopePublic)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got[0].Content != "原文" {
		t.Fatalf("stored message mutated through caller slice: %q", got[0].Content)
	}

	got[0].Content = "再次修改"
	_, again, _ := store.GetSession(ctx, "s", chat.ScopePublic)
	if again[0].Content != "原文" {
		t.Fatalf("stored message mutated through returned slice: %q", again[0].Content)
	}
}

func TestMemoryStoreGetSessionNotFound(t *testing.T) {
	store := chatservice.NewMemoryStore()

	if _, _, err := store.GetSession(context.Background(), "missing", chat.ScopeAdmin); err == nil {
		t.Fatal("expected error for missing session")
	}
}

// Package app 根据配置组装服务，供 HTTP 服务和命令行工具共用。
package app

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/zhouzirui/eray/backend/internal/config"
	"github.com/zhouzirui/eray/backend/internal/model/llm"
	"github.com/zhouzirui/eray/backend/internal/service/ai"
	chatService "github.com/zhouzirui/eray/backend/internal/service/chat"
	"github.com/zhouzirui/eray/backend/internal/service/conversation"
)

// Store 同时提供会话与文章存储。
type Store interface {
	chatService.Store
	chatService.ArticleStore
}

// App 持有组装好的服务。
type App struct {
	Config    *config.Config
	Registry  *llm.Registry
	AI        *ai.Service
	Assistant *ai.Assistant
	Store     Store
	Engines   *conversation.Factory

	closers []io.Closer
}

// New 构建模型注册表、模型供应商、存储和引擎工厂。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	aiSvc := ai.NewService(registry)
	registerProviders(ctx, cfg.AI, aiSvc)

	a := &App{
		Config:    cfg,
		Registry:  registry,
		AI:        aiSvc,
		Assistant: ai.NewAssistant(aiSvc),
	}

	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		a.Store = chatService.NewMemoryStore()
		log.Println("[store] using in-memory session store")
	default:
		sqliteStore, err := chatService.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		a.Store = sqliteStore
		a.closers = append(a.closers, sqliteStore)
		log.Printf("[store] using sqlite store at %s", cfg.Store.SQLitePath)
	}

	a.Engines = conversation.NewFactory(conversation.Options{
		Store:        a.Store,
		Articles:     a.Store,
		Endpoint:     aiSvc,
		Registry:     registry,
		SystemPrompt: cfg.Chat.SystemPrompt,
	})
	return a, nil
}

// Close 释放存储等资源。
func (a *App) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildRegistry(cfg *config.Config) (*llm.Registry, error) {
	registry := llm.NewRegistry(llm.Seed(cfg.AI.Ark.Model), cfg.Chat.DefaultModel)
	if cfg.AI.ModelsFile == "" {
		return registry, nil
	}

	entries, err := llm.LoadFile(cfg.AI.ModelsFile)
	if err != nil {
		return nil, err
	}
	log.Printf("[ai] loaded %d model entries from %s", len(entries), cfg.AI.ModelsFile)
	return registry.Merge(entries), nil
}

// registerProviders 注册已配置凭证的供应商。初始化失败只记录日志，
// 对应模型在请求时返回 ErrProviderUnavailable。
func registerProviders(ctx context.Context, cfg config.AIConfig, svc *ai.Service) {
	if cfg.Ark.Enabled() {
		chatModel, err := cfg.Ark.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize Ark provider: %v", err)
		} else {
			svc.Register(llm.ProviderArk, ai.NewArkProvider(chatModel))
			log.Println("[ai] Ark provider enabled")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过方舟模型")
	}

	if cfg.Gemini.Enabled() {
		gemini, err := ai.NewGeminiProvider(ctx, cfg.Gemini.APIKey)
		if err != nil {
			log.Printf("warning: failed to initialize Gemini provider: %v", err)
		} else {
			svc.Register(llm.ProviderGemini, gemini)
			log.Println("[ai] Gemini provider enabled")
		}
	}

	if cfg.DeepSeek.Enabled() {
		svc.Register(llm.ProviderDeepSeek, ai.NewOpenAIProvider("deepseek", cfg.DeepSeek.BaseURL, cfg.DeepSeek.APIKey, nil))
		log.Println("[ai] DeepSeek provider enabled")
	}
	if cfg.OpenRouter.Enabled() {
		svc.Register(llm.ProviderOpenRouter, ai.NewOpenAIProvider("openrouter", cfg.OpenRouter.BaseURL, cfg.OpenRouter.APIKey, nil))
		log.Println("[ai] OpenRouter provider enabled")
	}
}

package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Chat   ChatConfig
	Store  StoreConfig
	Access AccessConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	access, err := loadAccessConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI:     ai,
		Chat:   loadChatConfig(),
		Store:  store,
		Access: access,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述各个大模型供应商的凭证。
type AIConfig struct {
	Ark        ArkConfig
	Gemini     GeminiConfig
	DeepSeek   OpenAICompatConfig
	OpenRouter OpenAICompatConfig
	ModelsFile string
}

// ArkConfig 描述火山方舟模型配置。
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
	MaxTokens *int
}

// GeminiConfig 描述 Google Gemini 配置。
type GeminiConfig struct {
	APIKey string
}

// OpenAICompatConfig 描述 OpenAI 兼容接口（DeepSeek、OpenRouter）。
type OpenAICompatConfig struct {
	APIKey  string
	BaseURL string
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// Enabled 表示是否提供了 API Key。
func (c GeminiConfig) Enabled() bool {
	return c.APIKey != ""
}

// Enabled 表示是否提供了 API Key。
func (c OpenAICompatConfig) Enabled() bool {
	return c.APIKey != "" && c.BaseURL != ""
}

// NewChatModel 使用配置创建一个方舟模型实例。temperature 按调用传入，
// 这里不设置，避免推理模型收到不支持的参数。
func (c ArkConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     c.Model,
		MaxTokens: maxTokens,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	// 兼容旧的 Model 变量名。
	arkModel := strings.TrimSpace(os.Getenv("ARK_MODEL"))
	if arkModel == "" {
		arkModel = strings.TrimSpace(os.Getenv("Model"))
	}

	return AIConfig{
		Ark: ArkConfig{
			APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:     arkModel,
			BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
			MaxTokens: maxTokens,
		},
		Gemini: GeminiConfig{
			APIKey: strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		},
		DeepSeek: OpenAICompatConfig{
			APIKey:  strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY")),
			BaseURL: getEnvOrDefault("DEEPSEEK_BASE_URL", "https://api.deepseek.com"),
		},
		OpenRouter: OpenAICompatConfig{
			APIKey:  strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
			BaseURL: getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		},
		ModelsFile: strings.TrimSpace(os.Getenv("AI_MODELS_FILE")),
	}, nil
}

// ChatConfig 描述聊天默认值。
type ChatConfig struct {
	DefaultModel string
	SystemPrompt string
}

func loadChatConfig() ChatConfig {
	return ChatConfig{
		DefaultModel: strings.TrimSpace(os.Getenv("CHAT_DEFAULT_MODEL")),
		SystemPrompt: getEnvOrDefault("CHAT_SYSTEM_PROMPT", chat.DefaultSystemPrompt),
	}
}

// StoreConfig 描述会话存储。
type StoreConfig struct {
	Driver     string
	SQLitePath string
}

const (
	StoreDriverMemory = "memory"
	StoreDriverSQLite = "sqlite"
)

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", StoreDriverSQLite))
	switch driver {
	case StoreDriverMemory, StoreDriverSQLite:
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value: %q", driver)
	}

	return StoreConfig{
		Driver:     driver,
		SQLitePath: getEnvOrDefault("SQLITE_PATH", "data/chat.db"),
	}, nil
}

// AccessConfig 描述访问层级与公共层限流。
type AccessConfig struct {
	AdminToken        string
	PublicRatePerMin  int
	PublicBurst       int
	AllowedOriginsRaw string
	// TrustProxy 为 true 时使用 X-Forwarded-For / X-Real-IP 作为客户端地址。
	TrustProxy bool
}

func loadAccessConfig() (AccessConfig, error) {
	rate := 20
	if override, err := parseOptionalIntEnv("PUBLIC_RATE_PER_MIN"); err != nil {
		return AccessConfig{}, err
	} else if override != nil {
		rate = *override
	}

	burst := 5
	if override, err := parseOptionalIntEnv("PUBLIC_RATE_BURST"); err != nil {
		return AccessConfig{}, err
	} else if override != nil {
		if *override < 1 {
			burst = 1
		} else {
			burst = *override
		}
	}

	trustProxy, err := parseBoolEnv("TRUST_PROXY", true)
	if err != nil {
		return AccessConfig{}, err
	}

	return AccessConfig{
		TrustProxy:        trustProxy,
		AdminToken:        strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		PublicRatePerMin:  rate,
		PublicBurst:       burst,
		AllowedOriginsRaw: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),
	}, nil
}

// AllowedOrigins 拆分逗号分隔的跨域白名单。
func (c AccessConfig) AllowedOrigins() []string {
	var origins []string
	for _, item := range strings.Split(c.AllowedOriginsRaw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

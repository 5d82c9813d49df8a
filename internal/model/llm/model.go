package llm

// Provider names the upstream API family a model is served by.
type Provider string

const (
	ProviderArk        Provider = "ark"
	ProviderGemini     Provider = "gemini"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderOpenRouter Provider = "openrouter"
)

// ModelSpec describes one selectable chat model.
type ModelSpec struct {
	Key       string   `json:"key" toml:"key"`
	Name      string   `json:"name" toml:"name"`
	ShortName string   `json:"shortName" toml:"short_name"`
	Provider  Provider `json:"provider" toml:"provider"`
	ModelID   string   `json:"-" toml:"model_id"`
	IsFree    bool     `json:"isFree" toml:"is_free"`
	// 部分推理模型会拒绝 temperature 参数，此时请求中必须省略该字段。
	SupportsTemperature bool     `json:"supportsTemperature" toml:"supports_temperature"`
	Temperature         *float32 `json:"-" toml:"temperature"`
}

// TemperatureFor picks the temperature to send for a call. override wins
// over the model default; nothing is sent for models that reject it.
func (m ModelSpec) TemperatureFor(override *float32) (float32, bool) {
	if !m.SupportsTemperature {
		return 0, false
	}
	if override != nil {
		return *override, true
	}
	if m.Temperature != nil {
		return *m.Temperature, true
	}
	return 0, false
}

func float32Ptr(v float32) *float32 { return &v }

// Seed returns the built-in model list. The Ark entry is only offered
// when a concrete Ark model id is configured.
func Seed(arkModel string) []ModelSpec {
	models := []ModelSpec{
		{
			Key:                 "openrouter-v3",
			Name:                "DeepSeek V3 (OpenRouter 免费)",
			ShortName:           "V3 Free",
			Provider:            ProviderOpenRouter,
			ModelID:             "deepseek/deepseek-chat-v3-0324:free",
			IsFree:              true,
			SupportsTemperature: true,
			Temperature:         float32Ptr(0.7),
		},
		{
			Key:       "openrouter-r1",
			Name:      "DeepSeek R1 (OpenRouter 免费)",
			ShortName: "R1 Free",
			Provider:  ProviderOpenRouter,
			ModelID:   "deepseek/deepseek-r1:free",
			IsFree:    true,
		},
		{
			Key:                 "deepseek-chat",
			Name:                "DeepSeek Chat",
			ShortName:           "DeepSeek",
			Provider:            ProviderDeepSeek,
			ModelID:             "deepseek-chat",
			SupportsTemperature: true,
			Temperature:         float32Ptr(1.3),
		},
		{
			Key:       "deepseek-reasoner",
			Name:      "DeepSeek Reasoner",
			ShortName: "Reasoner",
			Provider:  ProviderDeepSeek,
			ModelID:   "deepseek-reasoner",
		},
		{
			Key:                 "gemini-flash",
			Name:                "Gemini Flash",
			ShortName:           "Gemini",
			Provider:            ProviderGemini,
			ModelID:             "gemini-3-flash-preview",
			SupportsTemperature: true,
			Temperature:         float32Ptr(1.0),
		},
	}

	if arkModel != "" {
		models = append(models, ModelSpec{
			Key:                 "ark-default",
			Name:                "豆包 (Ark)",
			ShortName:           "Ark",
			Provider:            ProviderArk,
			ModelID:             arkModel,
			SupportsTemperature: true,
			Temperature:         float32Ptr(0.7),
		})
	}

	return models
}

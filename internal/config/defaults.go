package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:            "info",
			MaxConcurrentEvents: 5,
		},
		Bot: BotConfig{
			Nicknames:        []string{"小助手"},
			ReplyProbability: 0.05,
			AdminTitles:      []string{"主人"},
			SystemMessage: []PromptSection{
				{Name: "character", Content: "你是一个乐于助人的QQ群聊天机器人。"},
				{Name: "directives", Content: defaultDirectivePrompt},
			},
			HistoryLimit: 10,
		},
		Gateway: GatewayConfig{
			APIBase:          "http://127.0.0.1:3000",
			TimeoutSeconds:   10,
			MaxAttempts:      3,
			BackoffSeconds:   10,
			ListenHost:       "127.0.0.1",
			ListenPort:       4321,
			EventPath:        "/onebot/event",
			ReconnectSeconds: 5,
		},
		Providers: ProvidersConfig{
			Chat: ProviderConfig{
				Enabled:        true,
				Name:           "openai",
				APIBase:        "https://api.openai.com/v1",
				Model:          "gpt-4o-mini",
				TimeoutSeconds: 120,
				MaxTokens:      2048,
				Temperature:    0.5,
			},
			Image: ProviderConfig{
				APIBase: "https://api.openai.com/v1",
				Model:   "dall-e-2",
			},
			Vision: ProviderConfig{
				APIBase: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			TTS: ProviderConfig{
				APIBase: "https://api.openai.com/v1",
				Model:   "tts-1",
				Voice:   "alloy",
			},
		},
		Voice: VoiceConfig{
			OutputDir:      "~/.cqbridge/data/voice",
			PublicBase:     "http://localhost:4321/data/voice",
			ServePath:      "/data/voice/",
			TimeoutSeconds: 10,
		},
		Music: MusicConfig{
			ResultPath: "data.url",
		},
		Intents: IntentsConfig{
			Draw:  []string{"/draw", "画一张", "画一幅"},
			Voice: []string{"/voice", "说一句"},
			Music: []string{"/music", "点歌"},
		},
		Memory: MemoryConfig{
			DBPath: "~/.cqbridge/chat.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
		RateLimit: RateLimitConfig{
			Burst:     5,
			PerMinute: 30,
		},
	}
}

const defaultDirectivePrompt = `当用户希望你用语音回答时，以 "#voice " 开头输出要朗读的内容。
当用户希望你画图时，以 "#draw " 开头输出英文绘图提示词。`

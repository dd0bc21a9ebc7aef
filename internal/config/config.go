package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the explicit configuration struct handed to each component
// at construction. Core logic never reads ambient process state.
type Config struct {
	Bot struct {
		// Login is the bot's own account name, used to find the most
		// recent bot-authored comment when recovering state.
		Login string `koanf:"login"`
		Token string `koanf:"token"`
	} `koanf:"bot"`

	AI struct {
		APIKey            string  `koanf:"api_key"`
		Model             string  `koanf:"model"`
		Temperature       float64 `koanf:"temperature"`
		RequestsPerMinute int     `koanf:"requests_per_minute"`
		TimeoutSeconds    int     `koanf:"timeout_seconds"`
	} `koanf:"ai"`

	Triage struct {
		LoopBound           int     `koanf:"loop_bound"`
		CompressThreshold   int     `koanf:"compress_threshold"`
		OffTopicStrikeLimit int     `koanf:"off_topic_strike_limit"`
		OffTopicConfidence  float64 `koanf:"off_topic_confidence"`

		Thresholds struct {
			Classification float64 `koanf:"classification"`
			Evidence       float64 `koanf:"evidence"`
			Draft          float64 `koanf:"draft"`
		} `koanf:"thresholds"`
	} `koanf:"triage"`
}

// LoadConfig loads configuration from defaults, an optional TOML file,
// and LIVETRIAGE_-prefixed environment variables, in that order.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"ai.model":                      "gemini-2.5-flash",
		"ai.temperature":                0.2,
		"ai.timeout_seconds":            60,
		"triage.loop_bound":             3,
		"triage.compress_threshold":     2000,
		"triage.off_topic_strike_limit": 2,
		"triage.off_topic_confidence":   0.75,
		"triage.thresholds.classification": 6.0,
		"triage.thresholds.evidence":       5.0,
		"triage.thresholds.draft":          7.0,
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./livetriage.toml", "$HOME/.livetriage.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("LIVETRIAGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LIVETRIAGE_")), "_", ".", -1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig writes a sample configuration file.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# LiveTriage Configuration

[bot]
login = "livetriage-bot"
token = "your-github-token"

[ai]
api_key = "your-gemini-api-key"
model = "gemini-2.5-flash"
temperature = 0.2

[triage]
loop_bound = 3
compress_threshold = 2000
off_topic_strike_limit = 2
off_topic_confidence = 0.75

[triage.thresholds]
classification = 6.0
evidence = 5.0
draft = 7.0
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate checks the fields without which a run cannot proceed.
func Validate(config *Config) error {
	if config.Bot.Login == "" {
		return fmt.Errorf("bot login is required")
	}
	if config.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if config.AI.APIKey == "" {
		return fmt.Errorf("ai api_key is required")
	}
	if config.Triage.LoopBound <= 0 {
		return fmt.Errorf("triage loop_bound must be positive")
	}
	return nil
}

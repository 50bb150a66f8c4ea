package ioc

import (
	"context"

	"github.com/KNICEX/trading-automaton/internal/service/llm"
	"github.com/KNICEX/trading-automaton/internal/service/llm/gemini"
	"github.com/google/generative-ai-go/genai"
	"github.com/spf13/viper"
	"google.golang.org/api/option"
)

func InitGeminiCli() *genai.Client {
	type Config struct {
		ApiKey []string `mapstructure:"api_key"`
	}

	var cfg Config
	if err := viper.UnmarshalKey("llm.gemini", &cfg); err != nil {
		panic(err)
	}

	if len(cfg.ApiKey) == 0 {
		panic("no gemini api key set")
	}

	cli, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.ApiKey[0]))
	if err != nil {
		panic(err)
	}
	return cli
}

// InitLLMService 预测用的模型, 低温度输出 json
func InitLLMService(model string) llm.Service {
	return gemini.NewService(InitGeminiCli(),
		gemini.WithModel(model),
		gemini.WithTemperature(0.2),
		gemini.WithJSONResponse(),
	)
}

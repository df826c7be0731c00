package bootstrap

import (
	"github.com/spf13/viper"
)

type Config struct {
	EngineName    string  `mapstructure:"ENGINE_NAME"`
	EngineVersion string  `mapstructure:"ENGINE_VERSION"`
	KatagoCommand string  `mapstructure:"KATAGO_COMMAND"`
	BoardSize     int     `mapstructure:"BOARD_SIZE"`
	Komi          float64 `mapstructure:"KOMI"`
	Rules         string  `mapstructure:"RULES"`

	CPuct           float64 `mapstructure:"C_PUCT"`
	MaxInFlight     int     `mapstructure:"MAX_IN_FLIGHT"`
	EvalDeadlineMs  int     `mapstructure:"EVAL_DEADLINE_MS"`
	GenmoveSeconds  float64 `mapstructure:"GENMOVE_SECONDS"`
	ResignThreshold float64 `mapstructure:"RESIGN_THRESHOLD"`
	ResignMinVisits int     `mapstructure:"RESIGN_MIN_VISITS"`

	AnalysisAddr string `mapstructure:"ANALYSIS_ADDR"`
	RedisUrl     string `mapstructure:"REDIS_URL"`
	MongoUri     string `mapstructure:"MONGO_URI"`
}

func Setup(cfgPath string) (*Config, error) {
	viper.SetConfigFile(cfgPath)

	setDefaults()

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	var cfg Config

	err = viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("ENGINE_NAME", "kataigo")
	viper.SetDefault("ENGINE_VERSION", "0.1.0")
	viper.SetDefault("BOARD_SIZE", 19)
	viper.SetDefault("KOMI", 7.5)
	viper.SetDefault("RULES", "tromp-taylor")
	viper.SetDefault("C_PUCT", 1.0)
	viper.SetDefault("MAX_IN_FLIGHT", 8)
	viper.SetDefault("EVAL_DEADLINE_MS", 15000)
	viper.SetDefault("GENMOVE_SECONDS", 1.0)
	viper.SetDefault("RESIGN_THRESHOLD", -0.9)
	viper.SetDefault("RESIGN_MIN_VISITS", 10)
}

package cmd

import (
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "talentloop"
)

type Config struct {
	Protocol *ProtocolConfig `mapstructure:"protocol"`
	Delivery *DeliveryConfig `mapstructure:"delivery"`
	AI       *AIConfig       `mapstructure:"ai"`
	Run      *RunConfig      `mapstructure:"run"`
}

type ProtocolConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type DeliveryConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	From         string        `mapstructure:"from"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	AckDeadline  time.Duration `mapstructure:"ack-deadline"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile   string        `mapstructure:"api-key-file"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxLogLength int           `mapstructure:"max-log-length"`
}

type RunConfig struct {
	PageSize      int `mapstructure:"page-size"`
	MaxCycles     int `mapstructure:"max-cycles"`
	Workers       int `mapstructure:"workers"`
	ReasoningRate int `mapstructure:"reasoning-rate"`
	MinSkills     int `mapstructure:"min-skills"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "talentloop is an autonomous agent that matches open jobs to candidates and sends outreach",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is talentloop.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Config needed only for run command now. If there is no config, we can skip initialization
	if runCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

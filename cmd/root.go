package cmd

import (
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "interview-intake"
)

type Config struct {
	ElevenLabs *ElevenLabsConfig `mapstructure:"elevenlabs"`
	Poll       *PollConfig       `mapstructure:"poll"`
	Server     *ServerConfig     `mapstructure:"server"`
	Reconcile  *ReconcileConfig  `mapstructure:"reconcile"`
	AI         *AIConfig         `mapstructure:"ai"`
	DataDir    string            `mapstructure:"data-dir"`
}

type ElevenLabsConfig struct {
	AgentID    string `mapstructure:"agent-id"`
	APIKeyFile string `mapstructure:"api-key-file"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Warmup   time.Duration `mapstructure:"warmup"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

type ReconcileConfig struct {
	VerifyWindow time.Duration `mapstructure:"verify-window"`
	GapWindow    time.Duration `mapstructure:"gap-window"`
}

type AIConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Gemini  *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "interview-intake pulls finished agent interviews from ElevenLabs and files candidates locally",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("elevenlabs.api-key-file", "ELEVENLABS_API_KEY_FILE"); err != nil {
		log.Fatalf("binding ELEVENLABS_API_KEY_FILE environment variable: %v", err)
	}

	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is interview-intake.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for the database and stored files")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("data-dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

func initConfig() {
	// Config needed only for run and sync commands. If there is no config, we can skip initialization
	if !configNeeded() {
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

func configNeeded() bool {
	for _, cmd := range []*cobra.Command{runCmd, syncVerifyCmd, syncBackfillCmd, syncHealCmd} {
		if cmd.CalledAs() != "" {
			return true
		}
	}
	return false
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

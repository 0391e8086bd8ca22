package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/csv-chatbot/backend/internal/analysis"
	"github.com/csv-chatbot/backend/internal/config"
	"github.com/csv-chatbot/backend/internal/llm"
	"github.com/csv-chatbot/backend/internal/session"
)

// factoryFunc builds the model factory from the resolved model settings.
type factoryFunc func(cfg config.ModelConfig) session.ModelFactory

func defaultFactory(cfg config.ModelConfig) session.ModelFactory {
	return llm.NewFactory(cfg, nil)
}

// app carries the per-invocation configuration shared by subcommands.
type app struct {
	v          *viper.Viper
	newFactory factoryFunc
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := newRootCmd(defaultFactory).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(newFactory factoryFunc) *cobra.Command {
	a := &app{v: viper.New(), newFactory: newFactory}

	root := &cobra.Command{
		Use:           "csvchat",
		Short:         "Explore a CSV file and ask a hosted model about it",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}

	defaults := config.DefaultConfig()
	f := root.PersistentFlags()
	f.String("config", "", "config file (yaml)")
	f.String("api-key", "", "model API key (env CSVCHAT_API_KEY)")
	f.String("provider", defaults.Model.Provider, "model provider: gemini or ark")
	f.String("model", defaults.Model.Name, "model name")
	f.String("base-url", "", "override the provider base URL")
	f.Int("timeout", defaults.Model.RequestTimeoutSeconds, "model request timeout in seconds")
	f.Int("context-rows", defaults.Table.ContextRows, "rows of the table sent as context")

	root.AddCommand(
		newSummarizeCmd(a),
		newPreviewCmd(a),
		newQueryCmd(a),
		newAskCmd(a),
	)
	return root
}

// loadConfig resolves settings with precedence flags > env > config file > defaults.
func (a *app) loadConfig(cmd *cobra.Command) error {
	v := a.v
	v.SetEnvPrefix("CSVCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (a *app) modelConfig() config.ModelConfig {
	mc := config.DefaultConfig().Model
	mc.Provider = strings.ToLower(strings.TrimSpace(a.v.GetString("provider")))
	mc.Name = a.v.GetString("model")
	if u := a.v.GetString("base-url"); u != "" {
		mc.BaseURL = u
	}
	if t := a.v.GetInt("timeout"); t > 0 {
		mc.RequestTimeoutSeconds = t
	}
	return mc
}

func (a *app) timeout() time.Duration {
	return a.modelConfig().RequestTimeout()
}

// openSession loads path into a fresh session.
func (a *app) openSession(path string) (*session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	opts := session.DefaultOptions()
	opts.ContextRows = a.v.GetInt("context-rows")
	opts.Query = []analysis.QueryOption{analysis.WithThreads(1)}

	s := session.New("cli", a.newFactory(a.modelConfig()), opts)
	if _, err := s.UploadTable(path, data); err != nil {
		return nil, err
	}
	return s, nil
}

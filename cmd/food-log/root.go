// cmd/food-log/root.go
package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcp-food-log/internal/config"
	"mcp-food-log/internal/logging"
)

const version = "1.0.0"

type commandContext struct {
	configFlag *string

	once   sync.Once
	config *config.Config
	logger *zap.Logger
	err    error
}

// ensure loads config and builds the logger once per process.
func (c *commandContext) ensure() (*config.Config, *zap.Logger, error) {
	c.once.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.err = err
			return
		}
		logger, err := logging.New(cfg.Log)
		if err != nil {
			c.err = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.logger, c.err
}

func (c *commandContext) close() {
	if c.logger != nil {
		_ = logging.Sync(c.logger)
	}
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	root := &cobra.Command{
		Use:           "food-log",
		Short:         "Meal photo and voice-note analysis service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			ctx.close()
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to a YAML config file")

	root.AddCommand(
		newServeCommand(ctx),
		newSweepCommand(ctx),
		newUserCommand(ctx),
		newMealsCommand(ctx),
		newAnalyzeCommand(),
	)
	return root
}

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/talentloop/talentloop/internal/delivery"
	"github.com/talentloop/talentloop/internal/hiring"
	"github.com/talentloop/talentloop/internal/logger"
	"github.com/talentloop/talentloop/internal/orchestrator"
	"github.com/talentloop/talentloop/internal/protocol"
	"github.com/talentloop/talentloop/internal/reasoning"
	"github.com/talentloop/talentloop/internal/reasoning/gemini"
	"github.com/talentloop/talentloop/internal/retry"
	"github.com/talentloop/talentloop/internal/screening"
	"github.com/talentloop/talentloop/internal/secrets"
	"github.com/talentloop/talentloop/internal/session"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var prompt = promptui.Select{
	Label: "Proceed?",
	Items: []string{PromptYes, PromptNo},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the talentloop matching loop over all open jobs",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before contacting candidates")
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the talentloop", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		logger.Fatal("config is required")
	}
	if config.Protocol == nil || config.Protocol.Endpoint == "" {
		logger.Fatal("protocol endpoint is required under protocol.endpoint")
	}
	if config.Delivery == nil || config.Delivery.Endpoint == "" {
		logger.Fatal("delivery endpoint is required under delivery.endpoint")
	}

	decider, err := newDecider(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal("building reasoning backend", zap.Error(err))
	}

	client, err := protocol.Connect(ctx, config.Protocol.Endpoint, retry.DefaultPolicy(), logger)
	if err != nil {
		logger.Fatal("connecting to the job store", zap.Error(err))
	}

	catalog, err := client.ListTools(ctx)
	if err != nil {
		logger.Fatal("discovering the tool catalog", zap.Error(err))
	}
	logger.Info("discovered tools", zap.Strings("tools", catalog.Names()))

	jobs, err := client.ListJobs(ctx)
	if err != nil {
		logger.Fatal("listing jobs", zap.Error(err))
	}

	open := 0
	for _, job := range jobs {
		if job.Status == hiring.JobOpen {
			open++
		}
	}
	if open == 0 {
		logger.Info("exiting", zap.String("reason", "no open jobs"))
		return
	}
	logger.Info("open jobs found", zap.Int("count", open))

	if cmd.Flag("auto-approve").Value.String() == "false" {
		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
		if action != PromptYes {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	dispatcher := delivery.NewDispatcher(
		delivery.NewHTTPChannel(config.Delivery.Endpoint, logger),
		delivery.Config{
			PollInterval: config.Delivery.PollInterval,
			AckDeadline:  config.Delivery.AckDeadline,
			From:         config.Delivery.From,
		},
		logger,
	)

	runCfg := config.Run
	if runCfg == nil {
		runCfg = &RunConfig{}
	}

	screens := []screening.Filter{
		screening.NewAvailability(),
		screening.NewSkillOverlap(runCfg.MinSkills),
	}

	o := orchestrator.New(client, decider, dispatcher, screens, orchestrator.Config{
		Workers:       runCfg.Workers,
		ReasoningRate: runCfg.ReasoningRate,
		Session: session.Config{
			PageSize:  runCfg.PageSize,
			MaxCycles: runCfg.MaxCycles,
			Tools:     catalog.Describe(),
		},
	}, logger)

	summary, err := o.Run(ctx, jobs)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("run failed", zap.Error(err))
	}

	for _, res := range summary.Results {
		logger.Info("job outcome",
			zap.String("job_id", res.JobID),
			zap.String("status", string(res.Status)),
			zap.Int("cycles", res.Cycles),
			zap.String("acked_candidate", res.AckedCandidate),
		)
	}
}

func newDecider(ctx context.Context, cfg *AIConfig, log *zap.Logger) (reasoning.Decider, error) {
	if cfg == nil || cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required under ai.gemini")
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model)
	if err != nil {
		return nil, err
	}

	deciderLogger := logger.WithBackendFields(log, "gemini", generator.Model())

	return gemini.NewDecider(generator, cfg.Gemini.Timeout, cfg.Gemini.MaxLogLength, deciderLogger), nil
}

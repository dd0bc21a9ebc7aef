package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/livetriage/internal/compose"
	"github.com/livetriage/internal/config"
	"github.com/livetriage/internal/conversation"
	"github.com/livetriage/internal/critique"
	"github.com/livetriage/internal/github"
	"github.com/livetriage/internal/guardrail"
	"github.com/livetriage/internal/llm"
	"github.com/livetriage/internal/logging"
	"github.com/livetriage/internal/orchestrator"
	"github.com/livetriage/internal/retry"
	"github.com/livetriage/internal/statestore"
	"github.com/livetriage/internal/triage"
)

// TriageCommand returns the triage subcommand, which processes one
// webhook event and exits. It is designed to run as a short-lived
// invocation (for example from a GitHub Actions step) with no state
// beyond what the thread itself carries.
func TriageCommand() *cli.Command {
	return &cli.Command{
		Name:  "triage",
		Usage: "Process a single issue event",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "event-name",
				Usage:    "Webhook event name (issues or issue_comment)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "event-path",
				Usage: "Path to the event payload JSON (defaults to $GITHUB_EVENT_PATH)",
			},
			&cli.StringFlag{
				Name:  "log-dir",
				Usage: "Directory for per-run log files (empty disables the file sink)",
			},
		},
		Action: runTriage,
	}
}

func runTriage(c *cli.Context) error {
	logging.Setup(c.Bool("debug"))

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	eventPath := c.String("event-path")
	if eventPath == "" {
		eventPath = os.Getenv("GITHUB_EVENT_PATH")
	}
	if eventPath == "" {
		return fmt.Errorf("no event payload: set --event-path or GITHUB_EVENT_PATH")
	}
	payload, err := os.ReadFile(eventPath)
	if err != nil {
		return fmt.Errorf("read event payload: %w", err)
	}
	ev, err := github.ParseEvent(c.String("event-name"), payload)
	if err != nil {
		return err
	}

	threadKey := conversation.ThreadKey(ev.Repository.Owner.Login, ev.Repository.Name, ev.Issue.Number)
	rl := logging.StartRun(uuid.NewString(), threadKey, c.String("log-dir"))
	defer rl.Close()

	ctx := context.Background()
	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}

	result, err := svc.HandleEvent(ctx, ev)
	if err != nil {
		return err
	}
	fmt.Printf("Outcome: %s\n", result.Outcome)
	if result.Summary != "" {
		fmt.Println(result.Summary)
	}
	return nil
}

// buildService wires the component graph from configuration. Every
// threshold and identity is passed explicitly; nothing reads process
// environment below this point.
func buildService(ctx context.Context, cfg *config.Config) (*triage.Service, error) {
	base, err := llm.NewGoogleAIClient(ctx, llm.GoogleAIConfig{
		APIKey:            cfg.AI.APIKey,
		Model:             cfg.AI.Model,
		Temperature:       cfg.AI.Temperature,
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
	})
	if err != nil {
		return nil, err
	}
	client := llm.NewResilientClient(base, retry.LLMConfig(),
		time.Duration(cfg.AI.TimeoutSeconds)*time.Second)

	gate := critique.New(client, critique.Thresholds{
		Classification: cfg.Triage.Thresholds.Classification,
		Evidence:       cfg.Triage.Thresholds.Evidence,
		Draft:          cfg.Triage.Thresholds.Draft,
	}, orchestrator.DefaultCategories)

	tracker := conversation.NewTracker()
	guard := guardrail.New(guardrail.Config{
		LoopBound:           cfg.Triage.LoopBound,
		OffTopicStrikeLimit: cfg.Triage.OffTopicStrikeLimit,
		OffTopicConfidence:  cfg.Triage.OffTopicConfidence,
	}, tracker, guardrail.NewLLMOffTopicJudge(client), nil)

	store := statestore.New(cfg.Triage.CompressThreshold)

	return triage.NewService(
		cfg.Bot.Login,
		store,
		tracker,
		guard,
		orchestrator.NewPipeline(client, gate),
		orchestrator.NewMachine(cfg.Triage.LoopBound, nil),
		compose.New(store),
		github.NewAPIClient(ctx, cfg.Bot.Token),
	), nil
}

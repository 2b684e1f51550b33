package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/config"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/classifier"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const defaultText = "Thanks everyone for the help earlier, the bot is working now."

func main() {
	app := &cli.Command{
		Name:  "classify-smoketest",
		Usage: "Send one message to the inference server and print the verdict",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "endpoint",
				Aliases: []string{"e"},
				Value:   "http://localhost:8080",
				Usage:   "Inference server base URL",
			},
			&cli.StringFlag{
				Name:    "text",
				Aliases: []string{"t"},
				Value:   defaultText,
				Usage:   "Message to classify",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "How long to wait for the server to come up",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the verdict as JSON",
			},
		},
		Action: smoketest,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func smoketest(ctx context.Context, cmd *cli.Command) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	client, err := classifier.New(ctx, cmd.String("endpoint"), classifier.Options{
		StartupTimeout: cmd.Duration("timeout"),
		Labels:         config.Defaults().Classifier.Labels,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	scores, err := client.Classify(ctx, cmd.String("text"))
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	verdict := moderation.Aggregate(scores)

	if cmd.Bool("json") {
		out, err := sonic.ConfigStd.MarshalIndent(map[string]any{
			"model":           client.Model(),
			"results":         verdict.Ranked,
			"violation_score": verdict.ViolationScore,
			"elapsed_ms":      elapsed.Milliseconds(),
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("model: %s (%s)\n", client.Model(), elapsed.Round(time.Millisecond))
	for _, s := range verdict.Ranked {
		fmt.Printf("  %-4s %.4f\n", s.Label, s.Probability)
	}
	fmt.Printf("violation score: %.4f\n", verdict.ViolationScore)
	return nil
}

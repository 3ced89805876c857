// Command ason is an interactive host for the orchestrator: it wires a chat
// provider, a demo operator surface, and the configured execution mode, then
// reads user messages line by line and streams the replies.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"

	ason "github.com/peopleworks/ason"
	"github.com/peopleworks/ason/src/config"
	"github.com/peopleworks/ason/src/models"
	"github.com/peopleworks/ason/src/operator"
)

// Clock is the demo operator exposed to scripts out of the box.
type Clock struct{}

func (Clock) Now() string { return time.Now().Format(time.RFC3339) }
func (Clock) AddDays(date string, days int) (string, error) {
	t, err := time.Parse(time.RFC3339, date)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", date, err)
	}
	return t.AddDate(0, 0, days).Format(time.RFC3339), nil
}

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		provider   = flag.String("provider", "", "chat provider: anthropic | openai | gemini | ollama | dummy")
		model      = flag.String("model", "", "model name for the chosen provider")
		mode       = flag.String("mode", "", "execution mode: in-process | external-process | container")
		logFile    = flag.String("log-file", "", "append JSON logs to this file in addition to stderr")
		debug      = flag.Bool("debug", false, "log at debug level")
	)
	flag.Parse()

	logger, closeLogs, err := buildLogger(*logFile, *debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLogs()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	cfg.FromEnv()
	if *provider != "" {
		cfg.Provider = *provider
	}
	if *model != "" {
		cfg.Model = *model
	}
	if *mode != "" {
		cfg.ExecutionMode = *mode
	}

	ctx := context.Background()
	completer, err := models.NewCompleter(ctx, cfg.Provider, cfg.Model)
	if err != nil {
		logger.Error("init provider", "error", err)
		os.Exit(1)
	}

	orchestrator, err := ason.New(ason.Options{
		Config:    cfg,
		Completer: completer,
		Operators: []operator.Registration{{
			Name:        "Clock",
			Description: "Date and time utilities.",
			Kind:        operator.Root,
			Value:       Clock{},
			MethodDocs: map[string]string{
				"Now":     "Returns the current time in RFC 3339 form.",
				"AddDays": "Adds a number of days to an RFC 3339 timestamp.",
			},
		}},
		Logger: logger,
	})
	if err != nil {
		logger.Error("init orchestrator", "error", err)
		os.Exit(1)
	}
	defer orchestrator.Close()

	fmt.Println("ason ready; type a message, or /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		stream, err := orchestrator.Stream(ctx, []models.Message{{Role: models.RoleUser, Content: line}})
		if err != nil {
			logger.Error("turn failed", "error", err)
			continue
		}
		for chunk := range stream {
			if chunk.Err != nil {
				fmt.Println()
				logger.Error("turn failed", "error", chunk.Err)
				break
			}
			fmt.Print(chunk.Delta)
		}
		fmt.Println()
	}
}

// buildLogger fans log records out to stderr and, when requested, a JSON
// file.
func buildLogger(path string, debug bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}
	closeLogs := func() {}

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		closeLogs = func() { _ = f.Close() }
	}

	return slog.New(slogmulti.Fanout(handlers...)), closeLogs, nil
}

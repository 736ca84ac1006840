package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/oliverquick/oxidisk/diskshell"
	"github.com/oliverquick/oxidisk/eventstream"
	"github.com/oliverquick/oxidisk/journal"
	"github.com/oliverquick/oxidisk/logger"
	"github.com/oliverquick/oxidisk/metadata"
	"github.com/oliverquick/oxidisk/planner"
	"github.com/oliverquick/oxidisk/quiesce"
	"github.com/oliverquick/oxidisk/schema"
	"github.com/oliverquick/oxidisk/sysexec"
)

// request is the top-level shape read from stdin: {"action": ..., "payload": ...}.
type request struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

func main() {
	journalPath := flag.String("journal-path", "", "Path to the crash journal file (empty for the default location)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "Log format (text, json)")
	flag.Parse()

	level := logger.LevelInfo
	switch *logLevel {
	case "debug":
		level = logger.LevelDebug
	case "warn":
		level = logger.LevelWarn
	case "error":
		level = logger.LevelError
	}
	logger.Init(logger.Config{Level: level, Format: *logFormat})

	stream := eventstream.New(os.Stdout)
	shell := diskshell.New(sysexec.NewExecutor())
	meta := metadata.New(shell)
	quiescer := quiesce.New(shell, meta)
	j := journal.New(*journalPath)
	p := planner.New(shell, meta, quiescer, j, stream)

	ok, message, details := run(context.Background(), p)
	if err := stream.Respond(ok, message, details); err != nil {
		logger.Error("failed to write terminal response", "error", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func run(ctx context.Context, p *planner.Planner) (ok bool, message string, details any) {
	var req request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return false, fmt.Sprintf("invalid request: %v", err), nil
	}

	var payload planner.Payload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return false, fmt.Sprintf("invalid payload: %v", err), nil
		}
	}
	if payload == nil {
		payload = planner.Payload{}
	}

	var rawPayload any = map[string]any(payload)
	if err := schema.Validate(req.Action, rawPayload); err != nil {
		return false, err.Error(), nil
	}

	logger.Debug("dispatching action", "action", req.Action)
	result, err := p.Dispatch(ctx, req.Action, payload)
	if err != nil {
		logger.Error("action failed", "action", req.Action, "error", err)
		return false, err.Error(), nil
	}
	return true, "", result
}

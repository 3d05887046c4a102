package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dtcooper/tomato/internal/daemon"
	xlog "github.com/dtcooper/tomato/internal/log"
	"github.com/dtcooper/tomato/internal/playout"
)

const shutdownTimeout = 10 * time.Second

// runREPL reads operator commands from stdin until EOF or a quit command.
// There is no DJ UI in this tree (§9 "out of scope"): this loop exists so
// the Playout Controller's state machine is reachable and exercisable from
// a real process rather than only from tests.
func runREPL(ctx context.Context, controller *playout.Controller, mgr *daemon.Manager) {
	logger := xlog.WithComponent("repl")
	fmt.Println("tomato console. Commands: generate, skip, skip-stopset, pause, resume, sync, status, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}

		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "":
			continue
		case "generate":
			if err := controller.GenerateNextBlock(ctx); err != nil {
				logger.Error().Err(err).Str("event", "repl.generate_failed").Msg("generate_next_block failed")
			}
		case "skip":
			if err := controller.SkipCurrentAsset(ctx); err != nil {
				logger.Error().Err(err).Str("event", "repl.skip_failed").Msg("skip_current_asset failed")
			}
		case "skip-stopset":
			if err := controller.SkipRestOfStopSet(ctx); err != nil {
				logger.Error().Err(err).Str("event", "repl.skip_stopset_failed").Msg("skip_rest_of_stopset failed")
			}
		case "pause":
			if err := controller.Pause(); err != nil {
				logger.Error().Err(err).Str("event", "repl.pause_failed").Msg("pause failed")
			}
		case "resume":
			if err := controller.Resume(); err != nil {
				logger.Error().Err(err).Str("event", "repl.resume_failed").Msg("resume failed")
			}
		case "sync":
			mgr.TriggerSync()
		case "status":
			fmt.Println(controller.State())
		case "quit", "exit":
			return
		default:
			fmt.Println("unrecognized command")
		}
	}
}

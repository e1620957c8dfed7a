package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaykit/agentcore/internal/agent"
	"github.com/relaykit/agentcore/internal/config"
	"github.com/relaykit/agentcore/pkg/models"
)

const replPlatformKey = "cli:local"

// buildRunCmd creates the "run" command: a stdin/stdout REPL, per spec.md
// §6.1. `exit` quits; blank input re-prompts; any other input drives one
// loop iteration. An interrupt fires the in-flight run's cancellation
// handle without closing the REPL; a second interrupt (or none in flight)
// exits.
func buildRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive stdin/stdout session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile, cfgFile)
			if err != nil {
				return err
			}
			rt, err := NewRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Shutdown()
			return runREPL(cmd.Context(), rt, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	return cmd
}

func runREPL(ctx context.Context, rt *Runtime, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "agentcore REPL. Type 'exit' to quit.")

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		switch {
		case line == "":
			continue
		case line == "exit":
			return nil
		}

		if err := runOneTurn(ctx, rt, line, out); err != nil {
			if err == context.Canceled {
				fmt.Fprintln(out, "Request aborted.")
				continue
			}
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

// runOneTurn drives one loop iteration for replPlatformKey. While it runs,
// SIGINT fires the run's cancellation handle instead of exiting; once that
// has happened, and outside a run, SIGINT has its default effect again.
func runOneTurn(ctx context.Context, rt *Runtime, text string, out io.Writer) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			signal.Stop(sigCh)
			cancel()
		case <-done:
		}
	}()
	defer close(done)

	session, err := rt.Sessions.GetOrCreate(runCtx, replPlatformKey, false, replPlatformKey)
	if err != nil {
		return err
	}
	session.Context.Messages = append(session.Context.Messages, models.Message{Role: models.RoleUser, Text: text})

	rt.Loop.Run(runCtx, &session.Context, agent.Options{
		Model:  rt.Dispatch.Defaults.Model,
		System: rt.Dispatch.Defaults.System,
		Bounds: rt.Dispatch.Defaults.Bounds,
		Callbacks: agent.Callbacks{
			OnText: func(delta string) { fmt.Fprint(out, delta) },
		},
	})
	fmt.Fprintln(out)

	return rt.Sessions.Save(runCtx, session.ID, session.Context)
}

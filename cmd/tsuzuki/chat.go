package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/yukioka/tsuzuki/pkg/config"
	"github.com/yukioka/tsuzuki/pkg/engine"
)

func newChatCommand() *cobra.Command {
	var (
		message string
		session string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from the terminal",
		Long:  "Run an interactive session or send a one-shot message. Shares state with every other platform using the same session id.",
		Example: strings.Join([]string{
			"  tsuzuki chat",
			"  tsuzuki chat --session work",
			"  tsuzuki chat --message \"続き\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(getConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.syncer.EnsureSession(context.Background(), session, "", "cli"); err != nil {
				return fmt.Errorf("register session: %w", err)
			}

			if strings.TrimSpace(message) != "" {
				reply, err := rt.engine.Handle(context.Background(), engine.Request{
					SessionID: session, Platform: "cli", Message: message,
				})
				if err != nil {
					return err
				}
				fmt.Printf("\n%s\n", reply.Text)
				return nil
			}

			fmt.Printf("%s interactive mode (Ctrl+C to exit)\n\n", appName)
			return chatLoop(rt, session)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&session, "session", "s", "cli:default", "Session id for continuity")

	return cmd
}

func chatLoop(rt *appRuntime, session string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".tsuzuki_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		reply, err := rt.engine.Handle(context.Background(), engine.Request{
			SessionID: session, Platform: "cli", Message: input,
		})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s\n\n", reply.Text)
	}
}

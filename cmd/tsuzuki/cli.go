package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yukioka/tsuzuki/pkg/config"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "tsuzuki",
		Short: "Session-continuity agent core for notes, browser, and web clients",
		Long: strings.TrimSpace(`tsuzuki keeps one conversation going across every platform you use.

It remembers turns and promoted facts in a shared store, suspends and
resumes multi-step tasks on a trigger phrase, backs answers with ranked
evidence, and speaks in one configurable voice everywhere.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Write the default ~/.tsuzuki configuration",
		Example: "  tsuzuki onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := getConfigPath()
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config already exists at %s", configPath)
			}
			cfg := config.DefaultConfig()
			if err := config.SaveConfig(configPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("%s is ready!\n\n", appName)
			fmt.Println("Next steps:")
			fmt.Println("  1. (Optional) Add a composer API key to", configPath)
			fmt.Println("  2. Start the server: tsuzuki serve")
			fmt.Println("  3. Chat locally: tsuzuki chat")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and state readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(getConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			check := func(path string) string {
				if _, err := os.Stat(path); err == nil {
					return "ok"
				}
				return "not initialized"
			}

			fmt.Printf("%s status\n", appName)
			fmt.Printf("Version: %s\n\n", formatVersion())
			fmt.Println("Config:", getConfigPath(), check(getConfigPath()))
			fmt.Println("Memory DB:", cfg.MemoryDBPath(), check(cfg.MemoryDBPath()))
			fmt.Println("Tasks DB:", cfg.TasksDBPath(), check(cfg.TasksDBPath()))
			fmt.Println("Profile:", cfg.ProfilePath(), check(cfg.ProfilePath()))
			fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			if strings.TrimSpace(cfg.Composer.APIKey) != "" {
				fmt.Println("Composer: model", cfg.Composer.Model)
			} else {
				fmt.Println("Composer: template fallback (no API key)")
			}
			fmt.Println("Platforms:", strings.Join(cfg.Agent.Platforms, ", "))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}

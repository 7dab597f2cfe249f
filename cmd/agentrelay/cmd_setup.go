package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/agentrelay/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("agentrelay setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token", cfg.Telegram.Token)

		users := prompt(scanner, "Allowed Telegram user ids (comma separated)", joinIDs(cfg.Telegram.AllowedUsers))
		ids, err := parseIDs(users)
		if err != nil {
			return err
		}
		cfg.Telegram.AllowedUsers = ids

		cfg.Agent.Binary = prompt(scanner, "Agent binary", cfg.Agent.Binary)
		cfg.Agent.WorkDir = prompt(scanner, "Agent working directory", cfg.Agent.WorkDir)
		cfg.Agent.Model = prompt(scanner, "Model (optional)", cfg.Agent.Model)

		timeout := prompt(scanner, "Agent timeout in seconds", strconv.Itoa(cfg.Agent.TimeoutSeconds))
		if n, err := strconv.Atoi(timeout); err == nil {
			cfg.Agent.TimeoutSeconds = n
		}

		idle := prompt(scanner, "Enable idle prompts (y/n)", yesNo(cfg.Idle.Enabled))
		cfg.Idle.Enabled = strings.HasPrefix(strings.ToLower(idle), "y")

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

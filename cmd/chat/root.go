package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var personaRoutes = map[string]string{
	"ramify": "/ramification-calculator",
	"task":   "/task-manager",
	"remind": "/medication-reminder",
}

func newRootCmd() *cobra.Command {
	var (
		server  string
		user    string
		timeout time.Duration
	)

	rootCmd := &cobra.Command{
		Use:          "ramify-chat",
		Short:        "Terminal client for a ramify server",
		Long:         "ramify-chat talks to a running ramify server. Without a subcommand it opens an interactive chat; plain text goes to the task manager and slash commands run on the server.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient(server, user, timeout)
			return runInteractive(cmd, c)
		},
	}
	rootCmd.PersistentFlags().StringVar(&server, "server", envOr("RAMIFY_SERVER", "http://localhost:3000"), "ramify server URL")
	rootCmd.PersistentFlags().StringVar(&user, "user", envOr("USER", "cli-user"), "user name; also keys the conversation")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 130*time.Second, "per-request timeout")

	clientFor := func() *client { return newClient(server, user, timeout) }
	rootCmd.AddCommand(
		newAskCmd(clientFor),
		newScheduleCmd(clientFor),
		newStatusCmd(clientFor),
	)
	return rootCmd
}

func newAskCmd(clientFor func() *client) *cobra.Command {
	var currentTime string
	cmd := &cobra.Command{
		Use:       "ask <ramify|task|remind> <message...>",
		Short:     "Send one message to a persona endpoint",
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: []string{"ramify", "task", "remind"},
		RunE: func(cmd *cobra.Command, args []string) error {
			route, ok := personaRoutes[args[0]]
			if !ok {
				return fmt.Errorf("unknown persona %q (want ramify, task or remind)", args[0])
			}
			if args[0] == "remind" && currentTime == "" {
				currentTime = time.Now().Format("2006-01-02 15:04")
			}
			result, err := clientFor().ask(cmd.Context(), route, strings.Join(args[1:], " "), currentTime)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), result)
			return err
		},
	}
	cmd.Flags().StringVar(&currentTime, "time", "", "current time sent with reminder requests (default: now)")
	return cmd
}

func newScheduleCmd(clientFor func() *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show or update the medication schedule",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the schedule as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := clientFor().schedule(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(raw)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <file|->",
		Short: "Merge the buckets in a JSON file into the schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read schedule: %w", err)
			}
			result, err := clientFor().updateSchedule(cmd.Context(), data)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), result)
			return err
		},
	})
	return cmd
}

func newStatusCmd(clientFor func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health and chat adapter status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return clientFor().printStatus(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runInteractive(cmd *cobra.Command, c *client) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "ramify CLI chat")
	fmt.Fprintf(out, "Server: %s | User: %s\n", c.server, c.user)
	fmt.Fprintln(out, "Type 'exit' or 'quit' to leave. Plain text goes to the task manager.")
	fmt.Fprintln(out, "Commands: /ramify, /remind, /schedule, /ack, /help, /status")
	fmt.Fprintln(out, "---")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(out, "Bye!")
			return nil
		}

		persona, content, err := c.chat(cmd.Context(), input)
		if err != nil {
			printError(cmd.ErrOrStderr(), "%v", err)
			continue
		}
		if persona != "" {
			fmt.Fprintf(out, "\033[36m[%s]\033[0m %s\n", persona, content)
		} else {
			fmt.Fprintln(out, content)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printError(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "\033[31m"+format+"\033[0m\n", args...)
}

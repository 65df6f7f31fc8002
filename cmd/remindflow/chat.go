package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"remindflow/internal/extract"
	"remindflow/internal/intake"
)

const chatHelp = `Commands:
  • Type a task with time: 'remind me at 5pm to study'
  • exit/quit/q - Exit the program`

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [user]",
		Short: "Create reminders interactively from the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := "local-user"
			if len(args) == 1 {
				user = args[0]
			}
			s, err := a.openStore(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer s.Close()
			in := intake.New(extract.New(), s, a.log)
			return chat(cmd.Context(), in, user, os.Stdin, cmd.OutOrStdout())
		},
	}
}

type handler interface {
	Handle(ctx context.Context, user, text string) string
}

// chat reads one message per line until EOF or an exit command.
func chat(ctx context.Context, h handler, user string, r io.Reader, w io.Writer) error {
	fmt.Fprintf(w, "Task Reminder Agent, user: %s\n", user)
	fmt.Fprintln(w, "Type 'exit' to quit, 'help' for commands")
	fmt.Fprintln(w)

	sc := bufio.NewScanner(r)
	for {
		fmt.Fprint(w, "You: ")
		if !sc.Scan() {
			fmt.Fprintln(w)
			return sc.Err()
		}
		msg := strings.TrimSpace(sc.Text())
		switch strings.ToLower(msg) {
		case "":
			continue
		case "exit", "quit", "q":
			fmt.Fprintln(w, "👋 Goodbye!")
			return nil
		case "help":
			fmt.Fprintln(w, chatHelp)
			continue
		}
		fmt.Fprintln(w, "Agent:", h.Handle(ctx, user, msg))
	}
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/agent"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("helix> ")
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	failStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const chatLongDesc string = `Start an interactive conversation on stdin.

Follow-up questions such as "What about Coronary_Artery_Disease?" are
resolved against the previous turns. The history is printed on exit.

Commands:
  /history   Print the conversation window
  /reset     Forget every turn
  /exit      Quit (Ctrl+D works too)`

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation on stdin",
		Long:  chatLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log, cmd.ErrOrStderr())

			ctx := commandContext(cmd)
			rt, err := openRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), rt.newEngine(uuid.NewString()))
		},
	}
}

// runChat answers one question per input line until EOF or /exit. A failed
// question is reported and the loop continues.
func runChat(ctx context.Context, in io.Reader, out io.Writer, engine *agent.Engine) error {
	fmt.Fprintf(out, "  %s\n\n", dimStyle.Render("Type a question and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, userPrompt)
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/exit":
			printHistory(out, engine)
			return nil
		case "/history":
			printHistory(out, engine)
			continue
		case "/reset":
			engine.Reset()
			fmt.Fprintf(out, "  %s\n", dimStyle.Render("history cleared"))
			continue
		}

		res, err := engine.Answer(ctx, input)
		if err != nil {
			var wfErr *agent.WorkflowError
			if errors.As(err, &wfErr) {
				fmt.Fprintf(out, "  %s %s failed: %v\n", failStyle.Render("x"), wfErr.Stage, wfErr.Cause)
			} else {
				fmt.Fprintf(out, "  %s %v\n", failStyle.Render("x"), err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		fmt.Fprintf(out, "%s%s\n\n", assistantPrompt, res.Answer)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	fmt.Fprintln(out)
	printHistory(out, engine)
	return nil
}

func printHistory(out io.Writer, engine *agent.Engine) {
	history := engine.History()
	if len(history) == 0 {
		fmt.Fprintf(out, "  %s\n", dimStyle.Render("no turns yet"))
		return
	}
	fmt.Fprintln(out, "Conversation history:")
	for _, line := range history {
		fmt.Fprintf(out, "  %s\n", line)
	}
}

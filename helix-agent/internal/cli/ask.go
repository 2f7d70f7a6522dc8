package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/agent"
)

func newAskCmd() *cobra.Command {
	var (
		question string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer a single question and exit",
		Example: `  helix ask -q "Which diseases are associated with TP53?"
  helix ask -q "What drugs treat Hypertension?" --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if question == "" {
				return errors.New(`please provide -q "your question"`)
			}

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

			return askOnce(cmd, rt.newEngine(uuid.NewString()), question, asJSON)
		},
	}

	cmd.Flags().StringVarP(&question, "question", "q", "", "Question to answer")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the answer and committed turn as JSON")
	return cmd
}

func askOnce(cmd *cobra.Command, engine *agent.Engine, question string, asJSON bool) error {
	res, err := engine.Answer(commandContext(cmd), question)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = fmt.Fprintln(out, res.Answer)
	return err
}

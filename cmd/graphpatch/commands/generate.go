package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openfroyo/graphpatch/pkg/engine"
	"github.com/openfroyo/graphpatch/pkg/graph"
	"github.com/openfroyo/graphpatch/pkg/script"
	"github.com/spf13/cobra"
)

func newGenerateCommand(opts *globalOptions) *cobra.Command {
	var (
		vars    []string
		outPath string
		plan    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate <program.star>",
		Short: "Generate a patch script with a Starlark program",
		Long: `Run a Starlark program that emits patch script lines.

The program sees these globals:
  target    the target identifier
  channels  a list of dicts (id, name, kind, parent_id, topic, position, nsfw, slowmode)
  roles     a list of dicts (id, name, color, hoist, mentionable, position)
  emit      emit(verb, type, id, key=value, ...) appends one line
  comment   comment(text) appends a comment line

Every --var name=value is exposed as a string global. The generated script is
written to --out, or stdout, or planned directly with --plan.`,
		Example: `  graphpatch generate reorder.star --var category=123456789012345678 --plan`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read program: %w", err)
			}

			globals, err := parseVars(vars)
			if err != nil {
				return err
			}

			return withApp(cmd, opts, func(a *app) error {
				target, err := a.targetID()
				if err != nil {
					return err
				}
				globals["target"] = target
				if a.graph != nil {
					globals["channels"] = channelValues(a.graph.Channels())
					globals["roles"] = roleValues(a.graph.Roles())
				} else {
					globals["channels"] = []interface{}{}
					globals["roles"] = []interface{}{}
				}

				generated, err := script.NewGenerator(timeout).Generate(cmd.Context(), args[0], string(src), globals)
				if err != nil {
					return err
				}
				a.logger.Debug().Str("program", args[0]).Int("bytes", len(generated)).Msg("Generated script")

				if plan {
					result, err := a.engine.Plan(cmd.Context(), target, generated, engine.PlanOptions{Actor: opts.actor})
					if err != nil {
						return err
					}
					if opts.jsonOutput {
						return printJSON(cmd.OutOrStdout(), result)
					}
					printPlan(cmd.OutOrStdout(), result)
					return nil
				}

				if outPath != "" {
					if err := os.WriteFile(outPath, []byte(generated), 0o644); err != nil {
						return fmt.Errorf("failed to write script: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)
					return nil
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), generated)
				return err
			})
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "program variable as name=value (repeatable)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the script to a file")
	cmd.Flags().BoolVar(&plan, "plan", false, "plan the generated script immediately")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "abort programs running longer than this")

	return cmd
}

func parseVars(raw []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(raw)+3)
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q, expected name=value", kv)
		}
		switch name {
		case "target", "channels", "roles", "emit", "comment":
			return nil, fmt.Errorf("--var %s would hide a built-in global", name)
		}
		vars[name] = value
	}
	return vars, nil
}

func channelValues(channels []graph.Channel) []interface{} {
	out := make([]interface{}, 0, len(channels))
	for _, ch := range channels {
		out = append(out, map[string]interface{}{
			"id":        ch.ID,
			"name":      ch.Name,
			"kind":      string(ch.Kind),
			"parent_id": ch.ParentID,
			"topic":     ch.Topic,
			"position":  ch.Position,
			"nsfw":      ch.NSFW,
			"slowmode":  ch.Slowmode,
		})
	}
	return out
}

func roleValues(roles []graph.Role) []interface{} {
	out := make([]interface{}, 0, len(roles))
	for _, r := range roles {
		out = append(out, map[string]interface{}{
			"id":          r.ID,
			"name":        r.Name,
			"color":       r.Color,
			"hoist":       r.Hoist,
			"mentionable": r.Mentionable,
			"position":    r.Position,
		})
	}
	return out
}

package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/openfroyo/graphpatch/pkg/handlers"
	"github.com/spf13/cobra"
)

func newOpsCommand(opts *globalOptions) *cobra.Command {
	var (
		handlersOnly bool
		export       bool
	)

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List the operations a script can use",
		Long: `List the active operation map: every verb and resource type a script may
use, the handler it runs and the parameters it accepts.

--handlers lists the compiled-in handlers instead, and --export prints the
built-in operation map so it can be copied and customized.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withApp(cmd, opts, func(a *app) error {
				if export {
					_, err := out.Write(handlers.DefaultOperations)
					return err
				}

				if handlersOnly {
					hs := a.catalog.Handlers()
					if opts.jsonOutput {
						return printJSON(out, handlerViews(hs))
					}
					tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "HANDLER\tPARAMS\tDESCRIPTION")
					for _, h := range hs {
						names := make([]string, 0, len(h.Params))
						for _, p := range h.Params {
							name := p.Name
							if p.Required {
								name += "*"
							}
							names = append(names, name)
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\n", h.ID, strings.Join(names, ","), h.Description)
					}
					return tw.Flush()
				}

				table := a.registry.Snapshot()
				if opts.jsonOutput {
					return printJSON(out, table.Descriptors())
				}

				fmt.Fprintf(out, "Operation map %s, %s\n\n", table.Source(), plural(table.Len(), "operation"))
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERB\tTYPE\tHANDLER\tPARAMS\t")
				for _, d := range table.Descriptors() {
					flag := ""
					if d.Destructive {
						flag = "destructive"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Verb, d.ResourceType, d.HandlerID, strings.Join(d.Params, ","), flag)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if skipped := table.Skipped(); len(skipped) > 0 {
					fmt.Fprintf(out, "\nSkipped malformed lines: %v\n", skipped)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&handlersOnly, "handlers", false, "list compiled-in handlers")
	cmd.Flags().BoolVar(&export, "export", false, "print the built-in operation map")

	return cmd
}

type handlerView struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	Params      []handlers.Param `json:"params"`
	Destructive bool             `json:"destructive"`
}

func handlerViews(hs []*handlers.Handler) []handlerView {
	views := make([]handlerView, 0, len(hs))
	for _, h := range hs {
		views = append(views, handlerView{ID: h.ID, Description: h.Description, Params: h.Params, Destructive: h.Destructive})
	}
	return views
}

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kbforge/kbforge/pkg/template"
	"github.com/kbforge/kbforge/pkg/web"
	"github.com/urfave/cli/v3"
)

func TemplatesCommand() *cli.Command {
	return &cli.Command{
		Name:    "templates",
		Aliases: []string{"t"},
		Usage:   "List the built-in pipeline templates",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the full template definitions as JSON",
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			templates := template.Builtin().List()

			if command.Bool("json") {
				return printJSON(templates)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTEPS\tPARAMETERS")

			for _, tpl := range templates {
				summary := web.TransformTemplateSummary(tpl)
				fmt.Fprintf(w, "%s\t%s\t%d\t%v\n", summary.ID, summary.Name, summary.Steps, summary.Parameters)
			}

			return w.Flush()
		},
	}
}

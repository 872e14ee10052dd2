package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ben-leadtech/etlkit/internal/definition"
)

func (a *app) validateCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline definition without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFile(file); err != nil {
				return err
			}
			out := newPrinter(cmd.OutOrStdout())
			def, err := definition.Load(file)
			if err != nil {
				var group interface{ Errors() []error }
				if errors.As(err, &group) {
					for _, e := range group.Errors() {
						out.Failure("%v\n", e)
					}
				}
				return err
			}

			out.Success("%s: pipeline %q is valid\n", file, def.Name)
			out.Info("  extract: %d job(s), load: %s\n", len(def.Extract.Jobs), def.Load.Target)
			return nil
		},
	}
	fileFlag(cmd, &file)
	return cmd
}

package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ben-leadtech/etlkit/internal/definition"
	"github.com/ben-leadtech/etlkit/internal/runner"
	"github.com/ben-leadtech/etlkit/state"
)

func (a *app) checkpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset the checkpoint of a pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(a.checkpointShowCommand(), a.checkpointClearCommand())
	return cmd
}

func (a *app) checkpointShowCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved checkpoint as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withCheckpoints(cmd, file, func(store state.Store, key string) error {
				cp, err := store.LoadCheckpoint(cmd.Context(), key)
				if err != nil {
					return err
				}
				if cp == nil {
					newPrinter(cmd.OutOrStdout()).Warning("no checkpoint saved for %s\n", key)
					return nil
				}
				data, err := json.MarshalIndent(cp, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
	fileFlag(cmd, &file)
	return cmd
}

func (a *app) checkpointClearCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the saved checkpoint so the next run starts from min_date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withCheckpoints(cmd, file, func(store state.Store, key string) error {
				if err := store.ClearCheckpoint(cmd.Context(), key); err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout()).Success("cleared checkpoint %s\n", key)
				return nil
			})
		},
	}
	fileFlag(cmd, &file)
	return cmd
}

func (a *app) withCheckpoints(cmd *cobra.Command, file string, fn func(state.Store, string) error) (err error) {
	if err := requireFile(file); err != nil {
		return err
	}
	def, err := definition.Load(file)
	if err != nil {
		return err
	}
	store, key, err := runner.Checkpoints(def, a.env, runner.Options{Logger: a.logger, Factories: a.factories})
	if err != nil {
		return err
	}
	if store == nil {
		newPrinter(cmd.OutOrStdout()).Warning("pipeline %q has no checkpoint backend\n", def.Name)
		return nil
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(store, key)
}

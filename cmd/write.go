package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saker-ai/openclaw-gateway/internal/control"
	"github.com/saker-ai/openclaw-gateway/internal/storage"
)

func newWriteCmd() *cobra.Command {
	var (
		path  string
		flags commandFlags
	)

	cmd := &cobra.Command{
		Use:   "write <command> <value>",
		Short: "Validate a command and write it to the control file",
		Long: "Atomically replaces the control document. A gateway watching the file pushes it to " +
			"connected viewers and polling viewers pick it up on their next tick.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := buildPayload(args[0], args[1], flags)
			if err != nil {
				return err
			}
			command, err := control.Decode(raw)
			if err != nil {
				return err
			}
			file, err := storage.NewControlFile(path)
			if err != nil {
				return err
			}
			if err := file.Write(command); err != nil {
				return fmt.Errorf("write control file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s to %s\n", command, file.Path())
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", storage.DefaultControlFileName, "control file path")
	cmd.Flags().StringVar(&flags.id, "id", "", "command id (default: random uuid)")
	cmd.Flags().BoolVar(&flags.noID, "no-id", false, "omit the command id")
	cmd.Flags().BoolVar(&flags.asString, "string", false, "always treat the value as a string")
	return cmd
}

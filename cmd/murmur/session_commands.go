package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"murmur/internal/ipc"
)

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard all buffered sessions without transcribing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.ClearSession(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Sessions cleared")
				return nil
			})
		},
	}
}

func newSensitivityCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sensitivity <value>",
		Short: "Set the voice-detection sensitivity (0.0-1.0)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[0], 32)
			if err != nil {
				return fmt.Errorf("parse sensitivity %q: %w", args[0], err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.SetSensitivity(float32(value))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sensitivity set to %.2f\n", status.VADSensitivity)
				return nil
			})
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/sigsock"
)

func sendCmd(flags *globalFlags) *cobra.Command {
	var end bool

	cmd := &cobra.Command{
		Use:   "send SIGNAL [JSON]",
		Short: "Send a single signal",
		Long: `Connect, send one signal optionally followed by a JSON data frame,
and disconnect.

Examples:
  sigsock send requestProgress
  sigsock send alterParam '["language", "en"]'
  sigsock send terminateProcess --end`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sigsock.ValidSignal(args[0]); err != nil {
				return err
			}
			var data json.RawMessage
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return errors.Errorf("invalid JSON data %q", args[1])
				}
				data = json.RawMessage(args[1])
			}

			a, err := setup(flags, "send")
			if err != nil {
				return err
			}
			defer a.close()

			conn := sigsock.New(a.connOptions()...)
			if err := conn.Connect(cmd.Context(), a.cfg.Addr); err != nil {
				return err
			}
			defer conn.Close()

			if data != nil {
				err = conn.SendSignalData(args[0], data)
			} else {
				err = conn.SendSignal(args[0])
			}
			if err != nil {
				return err
			}
			if end {
				if err := conn.Terminate(); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&end, "end", false, "send END_PROGRAM afterwards")

	return cmd
}

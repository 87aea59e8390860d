/*
Copyright 2024 SatsQueue Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const cliTimeout = 30 * time.Second

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// queueCommands are operator shortcuts that act on the ledger store directly.
func queueCommands(s *satsqueueInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "manage queues from the command line",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name> <payout-target>",
		Short: "create a queue paying out to a lightning address or LNURL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()
			rec, err := s.satsqueue.CreateQueue(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, rec)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "print the ordered view of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()
			view, err := s.satsqueue.GetQueueView(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, view)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list queue names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()
			names, err := s.satsqueue.ListQueues(ctx)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, names)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "call-next <name>",
		Short: "serve the entry at the head of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()
			served, err := s.satsqueue.CallNext(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, served)
		},
	})

	for _, toggle := range []struct {
		use    string
		active bool
	}{{"open", true}, {"close", false}} {
		toggle := toggle
		cmd.AddCommand(&cobra.Command{
			Use:   toggle.use + " <name>",
			Short: toggle.use + " a queue to new entries",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
				defer cancel()
				return s.satsqueue.SetQueueActive(ctx, args[0], toggle.active)
			},
		})
	}

	return cmd
}

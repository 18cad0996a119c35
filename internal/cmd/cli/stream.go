package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kode4food/ledger"
	"github.com/kode4food/ledger/bolt"
)

type appendJSON struct {
	Stream        ledger.StreamID       `json:"stream"`
	FirstVersion  ledger.StreamVersion  `json:"first_version"`
	LastVersion   ledger.StreamVersion  `json:"last_version"`
	FirstPosition ledger.GlobalPosition `json:"first_position"`
	LastPosition  ledger.GlobalPosition `json:"last_position"`
}

// newAppendCommand constructs the `append` subcommand
func newAppendCommand(logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <stream> <name> [payload]",
		Short: "Append one event to a stream",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			expect, _ := cmd.Flags().GetString("expect")
			meta, _ := cmd.Flags().GetString("metadata")

			expected, err := parseExpected(expect)
			if err != nil {
				return err
			}
			payload := []byte("{}")
			if len(args) == 3 {
				payload = []byte(args[2])
			}
			var metadata []byte
			if meta != "" {
				if !json.Valid([]byte(meta)) {
					return fmt.Errorf("invalid --metadata: not JSON")
				}
				metadata = []byte(meta)
			}

			ev := ledger.NewWriteEnvelope(args[1], payload, metadata)
			return withStore(cmd, logger, func(s *bolt.Store) error {
				res, err := s.Append(cmd.Context(),
					ledger.StreamID(args[0]), expected,
					[]*ledger.WriteEnvelope{ev},
				)
				if err != nil {
					return err
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(appendJSON{
					Stream:        res.StreamID,
					FirstVersion:  res.FirstVersion,
					LastVersion:   res.LastVersion,
					FirstPosition: res.FirstPosition,
					LastPosition:  res.LastPosition,
				})
			})
		},
	}
	cmd.Flags().String("expect", "any",
		"Expected stream version: any|none|<version>",
	)
	cmd.Flags().String("metadata", "", "Event metadata as a JSON document")
	return cmd
}

// newReadCommand constructs the `read` subcommand
func newReadCommand(logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <stream>",
		Short: "Print the events of one stream as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backward, _ := cmd.Flags().GetBool("backward")
			after, _ := cmd.Flags().GetInt64("after")
			limit, _ := cmd.Flags().GetInt("limit")

			opts := ledger.ReadOptions{Limit: limit}
			switch {
			case after >= 0:
				opts.From = ledger.After(ledger.StreamVersion(after))
			case backward:
				opts.From = ledger.StartEnd()
			default:
				opts.From = ledger.StartFrom()
			}
			if backward {
				opts.Direction = ledger.Backward
			}

			return withStore(cmd, logger, func(s *bolt.Store) error {
				id := ledger.StreamID(args[0])
				for env, err := range s.ReadStream(cmd.Context(), id, opts) {
					if err != nil {
						return err
					}
					if err := writeEvent(cmd.OutOrStdout(), env); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("backward", false, "Read from the newest event")
	cmd.Flags().Int64("after", -1,
		"Start after this version (-1 starts at the first or last event)",
	)
	cmd.Flags().Int("limit", 0, "Stop after N events (0 = all)")
	return cmd
}

// newHeadCommand constructs the `head` subcommand
func newHeadCommand(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Print the last committed global position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, logger, func(s *bolt.Store) error {
				head, ok, err := s.Head(cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "empty")
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), head)
				return err
			})
		},
	}
}

func parseExpected(s string) (ledger.ExpectedVersion, error) {
	switch s {
	case "", "any":
		return ledger.Any(), nil
	case "none":
		return ledger.NoStream(), nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return ledger.ExpectedVersion{}, fmt.Errorf(
			"invalid --expect %q; use any|none|<version>", s,
		)
	}
	return ledger.Exact(ledger.StreamVersion(v)), nil
}

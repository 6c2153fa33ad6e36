package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/syssam/storm"
)

// errLimit stops reading once the row limit is reached.
var errLimit = errors.New("row limit reached")

func isLimit(err error) bool { return errors.Is(err, errLimit) }

// render writes v as YAML.
func render(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// arguments converts positional arguments to statement parameters. Values
// stay strings and the database applies its own conversions.
func arguments(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

func newDialectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dialect",
		Short: "Print the dialect detected for the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a := fromContext(ctx)
			conn, err := a.stats.Conn(ctx)
			if err != nil {
				return err
			}
			md, err := conn.Metadata(ctx)
			if cerr := conn.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("read metadata: %w", err)
			}
			d, err := a.client.Dialect(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), map[string]any{
				"product": md,
				"dialect": d.Name(),
				"keys":    d.Keys().String(),
			})
		},
	}
}

func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <statement> [args...]",
		Short: "Run a statement and print the number of affected rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd.Context())
			n, err := a.client.ExecuteUpdate(cmd.Context(), args[0], arguments(args[1:])...)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), map[string]int64{"affected": n})
		},
	}
}

func newQueryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "query <query> [args...]",
		Short: "Run a query and print its rows",
		Long: `Run a query and print its rows as YAML. A list argument is not
available from the command line, but every ? is bound to one argument.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd.Context())
			rows := make([]map[string]any, 0)
			_, err := storm.ReadCursor(cmd.Context(), a.client, args[0], func(row map[string]any) error {
				if limit > 0 && len(rows) == limit {
					return errLimit
				}
				rows = append(rows, row)
				return nil
			}, arguments(args[1:])...)
			if err != nil && !isLimit(err) {
				return err
			}
			return render(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of rows to print (0 for all)")
	return cmd
}

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <procedure> [args...]",
		Short: "Call a stored procedure with input parameters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd.Context())
			params := make([]*storm.Param, 0, len(args)-1)
			for _, v := range args[1:] {
				params = append(params, storm.In(v))
			}
			if err := a.client.Procedure(cmd.Context(), args[0], params...); err != nil {
				return err
			}
			a.logger.Info("procedure called", "name", args[0], "params", len(params))
			return nil
		},
	}
}

package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/aliasmap"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/hierarchy"
)

var stdin io.Reader = os.Stdin

func newParseCmd(opts *rootOptions) *cobra.Command {
	var (
		offline bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "parse [raw...]",
		Short: "Parse raw billing identifiers into agency and customer",
		Long:  "Parse raw billing identifiers into agency and customer. With no arguments, identifiers are read one per line from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			raws := args
			if len(raws) == 0 {
				var err error
				if raws, err = readLines(stdin); err != nil {
					return err
				}
			}

			if offline {
				return parseAndWrite(cmd.Context(), raws, aliasmap.Empty(), workers)
			}
			return runCommand(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				snap, err := a.svc.snapshots.Snapshot(ctx)
				if err != nil {
					return err
				}
				return parseAndWrite(ctx, raws, snap, workers)
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "parse without the canonical alias maps")
	cmd.Flags().IntVar(&workers, "workers", 8, "parallel parse workers")
	return cmd
}

func parseAndWrite(ctx context.Context, raws []string, snap *aliasmap.Snapshot, workers int) error {
	parsed, err := hierarchy.ParseAll(ctx, raws, snap, workers)
	if err != nil {
		return err
	}
	return writeJSON(parsed)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/entrysync"
)

func pathArgs(args []string) entrysync.Path {
	return entrysync.Path{Storage: args[0], Repository: args[1], Name: args[2]}
}

func NewLookupCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <storage> <repository> <path>",
		Short: "Print the catalog entry of an artifact",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := build(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			r, err := a.Lookup(ctx, pathArgs(args))
			if errors.Is(err, entrysync.ErrNotFound) {
				return WrapExitError(ExitFailure, "no entry for "+pathArgs(args).String(), nil)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "lookup", err)
			}
			return printRecord(cmd.OutOrStdout(), root.Format, r)
		},
	}
}

func NewForgetCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <storage> <repository> <path>",
		Short: "Delete the catalog entry of an artifact and evict it from the cache",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := build(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.Forget(ctx, pathArgs(args)); err != nil {
				return WrapExitError(ExitFailure, "forget", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", pathArgs(args))
			return nil
		},
	}
}

func printRecord(w io.Writer, format string, r entrysync.Record) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Fprintf(w, "path:       %s\n", r.Path())
	fmt.Fprintf(w, "size:       %d\n", r.Size)
	fmt.Fprintf(w, "created:    %s\n", r.Created.Format(time.RFC3339))
	fmt.Fprintf(w, "updated:    %s\n", r.LastUpdated.Format(time.RFC3339))
	fmt.Fprintf(w, "last used:  %s\n", r.LastUsed.Format(time.RFC3339))
	fmt.Fprintf(w, "downloads:  %d\n", r.DownloadCount)
	fmt.Fprintf(w, "version:    %d\n", r.Version)
	algs := make([]string, 0, len(r.Checksums))
	for k := range r.Checksums {
		algs = append(algs, k)
	}
	sort.Strings(algs)
	for _, k := range algs {
		fmt.Fprintf(w, "%-11s %s\n", k+":", r.Checksums[k])
	}
	return nil
}

package main

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/ougirez/cmregistry/internal/pkg/cache"
)

var (
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the Redis cache",
	}

	cacheStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print memory usage, key counts per namespace and hit rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, governor, err := connectCache()
			if err != nil {
				return err
			}
			defer client.Close()

			return printJSON(cmd.OutOrStdout(), governor.Status(cmd.Context()))
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:       "clear <namespace>",
		Short:     "Delete every key of a namespace",
		Args:      cobra.ExactArgs(1),
		ValidArgs: namespaceNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := cache.ParseNamespace(args[0])
			if err != nil {
				return err
			}
			client, governor, err := connectCache()
			if err != nil {
				return err
			}
			defer client.Close()

			deleted, err := governor.ClearNamespace(cmd.Context(), ns)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d keys from %s\n", deleted, ns)
			return nil
		},
	}

	cacheManageCmd = &cobra.Command{
		Use:   "manage",
		Short: "Run one memory governor cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, governor, err := connectCache()
			if err != nil {
				return err
			}
			defer client.Close()

			usage, err := governor.Manage(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "memory usage %.1f%%\n", usage*100)
			return nil
		},
	}
)

func init() {
	cacheCmd.AddCommand(cacheStatusCmd, cacheClearCmd, cacheManageCmd)
}

func namespaceNames() []string {
	names := make([]string, 0, len(cache.Namespaces))
	for _, ns := range cache.Namespaces {
		names = append(names, string(ns))
	}
	return names
}

func printJSON(w io.Writer, v any) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

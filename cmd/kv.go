package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"kvcache/internal/bootstrap"
	domainkv "kvcache/internal/domain/kv"
	"kvcache/internal/errs"
	"kvcache/internal/usecase/kv"
)

var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Operate on the key-value store directly",
	Long:  "Runs one create, read or delete through the same cache, pools and store the server uses.",
}

var kvCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Insert or overwrite a key",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *kv.Service) error {
		key, _ := cmd.Flags().GetString("key")
		value, _ := cmd.Flags().GetString("value")

		if err := svc.Create(cmd.Context(), key, value); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Inserted (%s)\n", key); err != nil {
			return errs.Wrap(err, "write kv create output")
		}
		return nil
	}),
}

var kvReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read a key",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *kv.Service) error {
		key, _ := cmd.Flags().GetString("key")

		res, err := svc.Read(cmd.Context(), key)
		if err != nil {
			return err
		}

		tag := "[DB]"
		if res.Source == domainkv.SourceCache {
			tag = "[CACHE]"
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", tag, res.Value); err != nil {
			return errs.Wrap(err, "write kv read output")
		}
		return nil
	}),
}

var kvDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a key",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *kv.Service) error {
		key, _ := cmd.Flags().GetString("key")

		if err := svc.Delete(cmd.Context(), key); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", key); err != nil {
			return errs.Wrap(err, "write kv delete output")
		}
		return nil
	}),
}

func init() {
	kvCreateCmd.Flags().String("key", "", "Record key")
	kvCreateCmd.Flags().String("value", "", "Record value")
	_ = kvCreateCmd.MarkFlagRequired("key")
	_ = kvCreateCmd.MarkFlagRequired("value")

	kvReadCmd.Flags().String("key", "", "Record key")
	_ = kvReadCmd.MarkFlagRequired("key")

	kvDeleteCmd.Flags().String("key", "", "Record key")
	_ = kvDeleteCmd.MarkFlagRequired("key")

	kvCmd.AddCommand(kvCreateCmd, kvReadCmd, kvDeleteCmd)
	rootCmd.AddCommand(kvCmd)
}

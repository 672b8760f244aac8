package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupMaxAge int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete intervention backups past the retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		n := eng.CleanupBackups(cleanupMaxAge)
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d backup(s).\n", n)
		return nil
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List retained intervention backups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		backups := eng.Backups()
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, backups)
		}
		if len(backups) == 0 {
			fmt.Fprintln(out, "No retained backups.")
			return nil
		}
		for _, b := range backups {
			fmt.Fprintf(out, "%s  %s\n", b.ID, b.CreatedAt.Local().Format(time.DateTime))
			for _, f := range b.Files() {
				fmt.Fprintf(out, "    %s\n", f)
			}
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore the files of a retained intervention backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		files, err := eng.RestoreBackup(args[0])
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", f)
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupMaxAge, "max-age-days", 0, "Delete backups older than this (default: backup.retention_days)")
	rootCmd.AddCommand(cleanupCmd, backupsCmd, restoreCmd)
}

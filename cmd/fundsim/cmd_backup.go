package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var errBackupsDisabled = errors.New("backups are disabled: set FUNDSIM_BACKUP_BUCKET")

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload a backup of the fund database and rotate old ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.jobs.Backup == nil {
				return errBackupsDisabled
			}
			info, err := a.container.BackupService.CreateAndUploadBackup(context.Background())
			if err != nil {
				return err
			}
			deleted, err := a.container.BackupService.RotateOldBackups(context.Background(), a.cfg.Backup.RetentionDays)
			if err != nil {
				a.log.Warn().Err(err).Msg("Backup rotation failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%d bytes), removed %d old backups\n", info.Filename, info.SizeBytes, deleted)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.container.BackupService == nil {
				return errBackupsDisabled
			}
			backups, err := a.container.BackupService.ListBackups(context.Background())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FILENAME\tSIZE\tAGE (H)")
			for _, b := range backups {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", b.Filename, b.SizeBytes, b.AgeHours)
			}
			return tw.Flush()
		},
	})

	return cmd
}

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"cdcflow/internal/config"
	cerrors "cdcflow/internal/errors"
	"cdcflow/internal/model"
	"cdcflow/internal/service"
)

var (
	historyLimit int

	historyCmd = &cobra.Command{
		Use:   "history <mapping>",
		Short: "List the flows previously created for a mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(basePath)
			if err != nil {
				return err
			}
			if !cfg.Ledger.Enabled() {
				return cerrors.ErrInvalidConfig.GenWithStackByArgs("LEDGER_HOST is not set, no flow ledger to read")
			}
			ledger, err := service.OpenLedger(cfg.Ledger.GetDSN(), cfg.NiFi.BaseURL)
			if err != nil {
				return err
			}
			defer ledger.Close()

			records, err := ledger.History(cmd.Context(), args[0], historyLimit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), args[0], records)
			return nil
		},
	}
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Maximum number of records to show")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(out io.Writer, mappingName string, records []model.FlowRecord) {
	if len(records) == 0 {
		fmt.Fprintf(out, "No flows recorded for mapping %s\n", mappingName)
		return
	}
	for _, r := range records {
		fmt.Fprintf(out, "%s  %s (%s)  processors=%d connections=%d  %s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.ProcessGroupName, r.ProcessGroupID,
			len(r.ProcessorIDs), r.ConnectionCount, r.NiFiBaseURL)
	}
}

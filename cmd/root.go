package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cdcflow/internal/config"
	cerrors "cdcflow/internal/errors"
	"cdcflow/internal/nifi"
	"cdcflow/internal/service"
)

var (
	basePath string
	logLevel string
	dryRun   bool

	// clientOptions are appended to every nifi client the commands create.
	clientOptions []nifi.Option

	rootCmd = &cobra.Command{
		Use:   "cdcflow <mapping>",
		Short: "Provision a CDC flow on Apache NiFi from a mapping file",
		Long: `Reads mappings/<mapping>.properties and the two datasources it names,
then creates a process group, two connection pools, five processors and
their connections on NiFi and starts the flow.`,
		Args:              cobra.ExactArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupLogging,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runFlow(ctx, cmd.OutOrStdout(), args[0])
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&basePath, "base-path", ".", "Directory holding datasources/, mappings/ and .env")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level: DEBUG, INFO, WARNING or ERROR")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve the mapping and print the plan without calling NiFi")
}

func setupLogging(*cobra.Command, []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return cerrors.ErrInvalidArgument.GenWithStackByArgs("unknown log level " + logLevel)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logrus.SetOutput(os.Stderr)
	return nil
}

func runFlow(ctx context.Context, out io.Writer, mappingName string) error {
	cfg, err := config.Load(basePath)
	if err != nil {
		return err
	}

	builder, client := newBuilder(cfg)

	// 所有配置文件在第一次网络请求之前读取完毕
	plan, err := builder.Plan(mappingName)
	if err != nil {
		return err
	}
	if dryRun {
		printPlan(out, plan)
		return nil
	}

	if err := login(ctx, client, cfg.NiFi); err != nil {
		return err
	}

	builder.RegisterObserver(&service.LogObserver{})
	if cfg.Ledger.Enabled() {
		ledger, err := service.OpenLedger(cfg.Ledger.GetDSN(), client.BaseURL())
		if err != nil {
			logrus.WithError(err).Warn("flow ledger unavailable, run will not be recorded")
		} else {
			defer ledger.Close()
			builder.RegisterObserver(&service.LedgerObserver{Ledger: ledger})
		}
	}

	result, err := builder.Apply(ctx, plan)
	if err != nil {
		return err
	}
	printResult(out, result)
	return nil
}

func newClient(cfg config.NiFiConfig) *nifi.Client {
	opts := append([]nifi.Option{nifi.WithTimeout(cfg.RequestTimeout)}, clientOptions...)
	return nifi.NewClient(cfg.BaseURL, opts...)
}

func newBuilder(cfg *config.Config) (*service.FlowBuilder, *nifi.Client) {
	client := newClient(cfg.NiFi)
	builder := service.NewFlowBuilder(config.NewLoader(basePath), client, cfg.NiFi, service.BuilderOptions{
		SettleDelay:        cfg.NiFi.ServiceSettleDelay,
		WaitForServices:    cfg.NiFi.WaitForServices,
		ServiceWaitTimeout: cfg.NiFi.ServiceWaitTimeout,
	})
	return builder, client
}

// login authenticates when credentials are configured. A declined login is
// only fatal when NIFI_REQUIRE_AUTH is set.
func login(ctx context.Context, client *nifi.Client, cfg config.NiFiConfig) error {
	if !cfg.HasCredentials() {
		logrus.Debug("no nifi credentials configured, continuing anonymously")
		return nil
	}
	err := client.Authenticate(ctx, cfg.Username, cfg.Password)
	if err == nil {
		return nil
	}
	if cerrors.ErrAuthenticationDeclined.Equal(err) && !cfg.RequireAuth {
		logrus.WithError(err).Warn("continuing without authentication")
		return nil
	}
	return errors.Trace(err)
}

func printPlan(out io.Writer, plan *service.FlowPlan) {
	fmt.Fprintf(out, "Mapping: %s\n", plan.Mapping.Name)
	fmt.Fprintf(out, "Process Group: %s (parent %s)\n", plan.GroupName(), plan.ParentGroupID)
	for _, ds := range []config.DatasourceConfig{plan.Source, plan.Target} {
		fmt.Fprintf(out, "Controller Service: %s\n", service.ServiceName(ds.Name))
		props := config.MaskSecrets(service.ServiceProperties(ds))
		for _, key := range sortedKeys(props) {
			fmt.Fprintf(out, "  %s: %s\n", key, props[key])
		}
	}
	fmt.Fprintf(out, "Extract Query: %s\n", plan.ExtractQuery())
}

func printResult(out io.Writer, result *service.FlowResult) {
	fmt.Fprintln(out, "CDC Flow created successfully")
	fmt.Fprintf(out, "Process Group: %s (%s)\n", result.ProcessGroup.Component.Name, result.ProcessGroup.ResourceID())
	fmt.Fprintln(out, "Processors:")
	for _, role := range service.ProcessorRoles() {
		p, ok := result.Processors[role]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "  - %s: %s (%s)\n", role, p.Component.Name, p.Component.Type)
	}
}

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pingcap/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"cdcflow/internal/config"
	"cdcflow/internal/nifi"
)

var statusCmd = &cobra.Command{
	Use:   "status <group-id>",
	Short: "Show the controller services of a process group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(basePath)
		if err != nil {
			return err
		}
		client := newClient(cfg.NiFi)
		ctx := cmd.Context()
		if err := login(ctx, client, cfg.NiFi); err != nil {
			return err
		}

		groupID := args[0]
		group, err := client.GetProcessGroup(ctx, groupID)
		if err != nil {
			return errors.Annotatef(err, "获取流程组 %s 失败", groupID)
		}
		services, err := client.ListControllerServices(ctx, groupID)
		if err != nil {
			return errors.Annotatef(err, "获取流程组 %s 的控制器服务失败", groupID)
		}
		printStatus(cmd.OutOrStdout(), group, services)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printStatus(out io.Writer, group *nifi.Entity, services []nifi.Entity) {
	fmt.Fprintf(out, "Process Group: %s (%s)\n", group.Component.Name, group.ResourceID())
	fmt.Fprintf(out, "Controller Services: %d\n", len(services))
	for _, svc := range services {
		c := svc.Component
		fmt.Fprintf(out, "\n%s\n", c.Name)
		fmt.Fprintf(out, "  ID:    %s\n", svc.ResourceID())
		fmt.Fprintf(out, "  Type:  %s\n", c.Type)
		fmt.Fprintf(out, "  State: %s\n", c.State)
		if !strings.EqualFold(c.State, nifi.StateEnabled) && len(c.ValidationErrors) > 0 {
			fmt.Fprintln(out, "  Validation Errors:")
			for _, msg := range c.ValidationErrors {
				fmt.Fprintf(out, "    - %s\n", msg)
			}
		}
		props := lo.OmitByKeys(c.Properties, []string{"Password"})
		if len(props) > 0 {
			fmt.Fprintln(out, "  Properties:")
			for _, key := range sortedKeys(props) {
				fmt.Fprintf(out, "    %s: %s\n", key, props[key])
			}
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

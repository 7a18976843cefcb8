package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ruaan-deysel/ha-unraid-management-agent/internal/api"
	internalerrors "github.com/ruaan-deysel/ha-unraid-management-agent/internal/errors"
	"github.com/ruaan-deysel/ha-unraid-management-agent/pkg/unraid"
)

var (
	snapshotDomain  string
	snapshotTimeout time.Duration
	actionTimeout   time.Duration
	actionList      bool
)

var errPollFailed = errors.New("poll cycle failed")

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Poll the agent once and print the merged state as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client, err := newClient(cfg, nil)
		if err != nil {
			return err
		}
		coord, err := newCoordinator(cfg, client, false)
		if err != nil {
			return err
		}
		defer coord.Stop()

		ctx, cancel := context.WithTimeout(cmd.Context(), snapshotTimeout)
		defer cancel()
		ok := coord.PollOnce(ctx)

		state := api.CurrentState(coord)
		var out any = state
		if snapshotDomain != "" {
			ds, found := state.Domains[snapshotDomain]
			if !found {
				return fmt.Errorf("domain %q has no data", snapshotDomain)
			}
			out = ds
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		if !ok {
			return errPollFailed
		}
		return nil
	},
}

var actionCmd = &cobra.Command{
	Use:   "action <action> [target]",
	Short: "Invoke a control action on the agent",
	Args:  cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if actionList {
			for _, a := range unraid.Actions() {
				if a.NeedsTarget() {
					fmt.Fprintf(out, "%s <target>\n", a)
				} else {
					fmt.Fprintln(out, a)
				}
			}
			return nil
		}
		if len(args) == 0 {
			return errors.New("an action name is required, use --list to see them")
		}

		action, err := unraid.ParseAction(args[0])
		if err != nil {
			return err
		}
		target := ""
		if len(args) > 1 {
			target = args[1]
		}
		if action.NeedsTarget() && target == "" {
			return fmt.Errorf("action %s requires a target", action)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newClient(cfg, nil)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), actionTimeout)
		defer cancel()
		if err := client.Invoke(ctx, action, target); err != nil {
			return internalerrors.Classify("invoke "+string(action), cfg.Host, err)
		}
		fmt.Fprintf(out, "%s ok\n", action)
		return nil
	},
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the agent's TLS certificate fingerprint for UMA_TLS_FINGERPRINT",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ConnectTimeout)
		defer cancel()

		fingerprint, err := unraid.FetchFingerprint(ctx, cfg.Host, cfg.Port)
		if err != nil {
			return internalerrors.Classify("fingerprint", cfg.Host, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), fingerprint)
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotDomain, "domain", "", "print only this domain")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 30*time.Second, "overall poll timeout")

	actionCmd.Flags().DurationVar(&actionTimeout, "timeout", 30*time.Second, "request timeout")
	actionCmd.Flags().BoolVar(&actionList, "list", false, "list supported actions")
}

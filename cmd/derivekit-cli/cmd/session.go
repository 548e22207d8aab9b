/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/tealdao/derivekit/core"
)

var loginOpt struct {
	globalLimit string
	unlimited   bool
	counts      []string
}

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "start an identity handshake and store the granted key",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService(cmd)
		if err != nil {
			return err
		}

		capability, err := buildCapability()
		if err != nil {
			return err
		}

		user, err := svc.Login(cmd.Context(), capability)
		if err != nil {
			return err
		}

		return printJson(cmd, user)
	},
}

// deriveCmd represents the derive command
var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "request a new or widened grant for the active session",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService(cmd)
		if err != nil {
			return err
		}

		capability, err := buildCapability()
		if err != nil {
			return err
		}

		user, err := svc.Derive(cmd.Context(), capability)
		if err != nil {
			return err
		}

		return printJson(cmd, user)
	},
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show the active user and stored siblings",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService(cmd)
		if err != nil {
			return err
		}

		snapshot, err := svc.Snapshot(cmd.Context())
		if err != nil {
			return err
		}

		return printJson(cmd, snapshot)
	},
}

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "end the active session and purge its record",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService(cmd)
		if err != nil {
			return err
		}

		return svc.Logout(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(deriveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logoutCmd)

	for _, c := range []*cobra.Command{loginCmd, deriveCmd} {
		c.Flags().StringVar(&loginOpt.globalLimit, "limit", "0", "global value ceiling in coins")
		c.Flags().BoolVar(&loginOpt.unlimited, "unlimited", false, "request a full-access grant")
		c.Flags().StringSliceVar(&loginOpt.counts, "txn", nil, "transaction grants, e.g. SUBMIT_POST=5")
	}
}

func buildCapability() (*core.Capability, error) {
	if loginOpt.unlimited {
		return &core.Capability{Unlimited: true}, nil
	}

	capability := &core.Capability{
		TransactionCounts: map[core.TxnKind]core.Count{},
	}

	if loginOpt.globalLimit != "" {
		coins, err := decimal.NewFromString(loginOpt.globalLimit)
		if err != nil {
			return nil, fmt.Errorf("parse limit: %w", err)
		}

		capability.GlobalValueLimit = uint64(coins.Shift(9).IntPart())
	}

	for _, grant := range loginOpt.counts {
		name, count, ok := strings.Cut(grant, "=")
		if !ok {
			return nil, fmt.Errorf("bad grant %q, want KIND=COUNT", grant)
		}

		kind, err := txnKindFromString(name)
		if err != nil {
			return nil, err
		}

		n, err := strconv.ParseUint(count, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad count in %q: %w", grant, err)
		}

		capability.TransactionCounts[kind] = core.Count(n)
	}

	return capability, nil
}

func txnKindFromString(name string) (core.TxnKind, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for kind := core.TxnKindBasicTransfer; kind <= core.TxnKindStake; kind++ {
		if kind.String() == name {
			return kind, nil
		}
	}

	return core.TxnKindUnset, fmt.Errorf("unknown transaction kind %q", name)
}

/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/pandodao/generic"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/tealdao/derivekit/core"
	"github.com/tealdao/derivekit/service/framer"
)

var sendOpt struct {
	to     string
	amount string
}

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "sign a basic transfer with the derived key and submit it",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService(cmd)
		if err != nil {
			return err
		}

		amount := generic.Try(decimal.NewFromString(sendOpt.amount))
		nanos := uint64(amount.Shift(9).IntPart())
		if nanos == 0 {
			return fmt.Errorf("bad amount %q", sendOpt.amount)
		}

		hash, err := svc.SignAndSubmit(cmd.Context(), core.TxnKindBasicTransfer, framer.Fields{
			Outputs: []*core.TxnOutput{
				{PublicKey: sendOpt.to, AmountNanos: nanos},
			},
		})
		if err != nil {
			return err
		}

		cmd.Println("submitted:", hash)
		return nil
	},
}

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "check whether the cached grant covers a transaction kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService(cmd)
		if err != nil {
			return err
		}

		kind, err := txnKindFromString(args[0])
		if err != nil {
			return err
		}

		ok, err := svc.Covers(cmd.Context(), &core.Capability{
			TransactionCounts: map[core.TxnKind]core.Count{kind: 1},
		})
		if err != nil {
			return err
		}

		cmd.Println(kind.String(), "covered:", ok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(checkCmd)

	sendCmd.Flags().StringVar(&sendOpt.to, "to", "", "recipient public key")
	sendCmd.Flags().StringVar(&sendOpt.amount, "amount", "0", "amount in coins")
	sendCmd.MarkFlagRequired("to")
}

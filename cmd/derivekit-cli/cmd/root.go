/*
Copyright © 2026 tealdao
*/
package cmd

import (
	"encoding/json"
	"log/slog"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tealdao/derivekit/core"
	"github.com/tealdao/derivekit/service/identity"
	"github.com/tealdao/derivekit/service/node"
	"github.com/tealdao/derivekit/store/db"
	"github.com/tealdao/derivekit/store/memory"
	"github.com/tealdao/derivekit/store/property"
	"github.com/tealdao/derivekit/store/user"
	"github.com/tealdao/derivekit/transport/web"
	"github.com/tsenart/nap"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "derivekit-cli",
	Short: "derived-key sessions against a remote node from the terminal",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("node", "n", "http://localhost:17001", "node api endpoint")
	rootCmd.PersistentFlags().String("identity", "https://identity.tealdao.net/derive", "identity origin url")
	rootCmd.PersistentFlags().String("db", "", "postgres dsn; stores session in memory when empty")
	rootCmd.PersistentFlags().Uint64("fee-rate", 1000, "fee rate in nanos per KB")
	rootCmd.PersistentFlags().Uint64("expiration-days", 30, "requested grant lifetime in days")

	viper.BindPFlag("node", rootCmd.PersistentFlags().Lookup("node"))
	viper.BindPFlag("identity", rootCmd.PersistentFlags().Lookup("identity"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("fee_rate", rootCmd.PersistentFlags().Lookup("fee-rate"))
	viper.BindPFlag("expiration_days", rootCmd.PersistentFlags().Lookup("expiration-days"))
}

func getUserStore() (core.UserStore, error) {
	dsn := viper.GetString("db")
	if dsn == "" {
		return user.New(memory.New()), nil
	}

	conn, err := nap.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(conn.Master()); err != nil {
		return nil, err
	}

	return user.New(property.New(conn)), nil
}

func getService(cmd *cobra.Command) (*identity.Service, error) {
	users, err := getUserStore()
	if err != nil {
		return nil, err
	}

	transport, err := web.New(web.Config{
		IdentityURL: viper.GetString("identity"),
		OpenURL: func(url string) error {
			cmd.PrintErrln("open in a browser:", url)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	svc := identity.New(
		users,
		node.New(node.Config{BaseURL: viper.GetString("node")}),
		transport,
		logger,
		identity.Config{
			ExpirationDays:    viper.GetUint64("expiration_days"),
			FeeRateNanosPerKB: viper.GetUint64("fee_rate"),
		},
	)

	return svc, nil
}

func printJson(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	cmd.Println(string(b))
	return nil
}

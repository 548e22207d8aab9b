package main

import (
	"github.com/google/wire"
	_ "github.com/lib/pq"
	"github.com/spf13/viper"
	"github.com/tealdao/derivekit/store/db"
	"github.com/tealdao/derivekit/store/property"
	"github.com/tealdao/derivekit/store/user"
	"github.com/tsenart/nap"
)

var storeSet = wire.NewSet(
	provideDB,
	property.New,
	user.New,
)

func provideDB(v *viper.Viper) (*nap.DB, func(), error) {
	v.SetDefault("db.driver", "postgres")

	driver := v.GetString("db.driver")
	dsn := v.GetString("db.dsn")
	conn, err := nap.Open(driver, dsn)
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(conn.Master()); err != nil {
		return nil, nil, err
	}

	return conn, func() { _ = conn.Close() }, nil
}

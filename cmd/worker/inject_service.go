package main

import (
	"github.com/google/wire"
	"github.com/spf13/viper"
	"github.com/tealdao/derivekit/service/node"
)

var serviceSet = wire.NewSet(
	provideNodeConfig,
	node.New,
)

func provideNodeConfig(v *viper.Viper) node.Config {
	return node.Config{
		BaseURL: v.GetString("node.base_url"),
	}
}

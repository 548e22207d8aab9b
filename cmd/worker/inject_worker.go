package main

import (
	"github.com/google/wire"
	"github.com/tealdao/derivekit/worker/refresher"
)

var workerSet = wire.NewSet(
	refresher.New,
)

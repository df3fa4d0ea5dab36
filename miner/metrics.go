package miner

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	heightGauge   = metrics.NewRegisteredGauge("miner/chain/height", nil)
	messagesMeter = metrics.NewRegisteredMeter("miner/messages/applied", nil)
	skippedMeter  = metrics.NewRegisteredMeter("miner/messages/skipped", nil)
	sealTimer     = metrics.NewRegisteredTimer("miner/seal", nil)
)

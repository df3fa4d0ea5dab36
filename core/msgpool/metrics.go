package msgpool

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	pendingGauge = metrics.NewRegisteredGauge("msgpool/pending", nil)
	addedMeter   = metrics.NewRegisteredMeter("msgpool/added", nil)
)

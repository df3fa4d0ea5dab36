package core

import (
	"github.com/PinkDiamond1/filsim/core/types"
)

// TipsetEvent is posted after a mining commit, once the new tip is durably
// persisted.
type TipsetEvent struct {
	Tipset *types.Tipset
}

package deals

import "fmt"

// StorageDealStatus is the deal state, following the canonical Filecoin
// storage-deal enumeration. The simulator walks a fixed linear slice of it:
// no rejection or failure branches, one transition per mined tipset.
type StorageDealStatus uint64

const (
	StorageDealUnknown StorageDealStatus = iota
	StorageDealValidating
	StorageDealStaged
	StorageDealEnsureProviderFunds
	StorageDealEnsureClientFunds
	StorageDealFundsEnsured
	StorageDealProviderFunding
	StorageDealClientFunding
	StorageDealPublish
	StorageDealPublishing
	StorageDealTransferring
	StorageDealSealing
	StorageDealActive
	StorageDealExpired
	StorageDealError
)

var dealStatusNames = map[StorageDealStatus]string{
	StorageDealUnknown:             "StorageDealUnknown",
	StorageDealValidating:          "StorageDealValidating",
	StorageDealStaged:              "StorageDealStaged",
	StorageDealEnsureProviderFunds: "StorageDealEnsureProviderFunds",
	StorageDealEnsureClientFunds:   "StorageDealEnsureClientFunds",
	StorageDealFundsEnsured:        "StorageDealFundsEnsured",
	StorageDealProviderFunding:     "StorageDealProviderFunding",
	StorageDealClientFunding:       "StorageDealClientFunding",
	StorageDealPublish:             "StorageDealPublish",
	StorageDealPublishing:          "StorageDealPublishing",
	StorageDealTransferring:        "StorageDealTransferring",
	StorageDealSealing:             "StorageDealSealing",
	StorageDealActive:              "StorageDealActive",
	StorageDealExpired:             "StorageDealExpired",
	StorageDealError:               "StorageDealError",
}

func (s StorageDealStatus) String() string {
	if name, ok := dealStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StorageDealStatus(%d)", uint64(s))
}

// dealStages is the linear happy path a simulated deal walks, one stage per
// mined tipset. Deals leave the in-process set on reaching Active.
var dealStages = []StorageDealStatus{
	StorageDealValidating,
	StorageDealStaged,
	StorageDealEnsureProviderFunds,
	StorageDealEnsureClientFunds,
	StorageDealFundsEnsured,
	StorageDealProviderFunding,
	StorageDealClientFunding,
	StorageDealPublish,
	StorageDealPublishing,
	StorageDealTransferring,
	StorageDealSealing,
	StorageDealActive,
}

// nextDealStatus returns the stage after s on the happy path. Active and any
// state off the path hold.
func nextDealStatus(s StorageDealStatus) StorageDealStatus {
	for i, stage := range dealStages {
		if stage == s && i+1 < len(dealStages) {
			return dealStages[i+1]
		}
	}
	return s
}

// StagesUntilActive is the number of mined tipsets a fresh deal needs to
// reach Active.
var StagesUntilActive = len(dealStages) - 1

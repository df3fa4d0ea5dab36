package params

import (
	"time"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
)

// FilecoinPrecision is the number of attoFIL in one FIL.
const FilecoinPrecision = 1_000_000_000_000_000_000

// Well-known simulator addresses. The miner is the single in-process storage
// provider; base fees are burned to the burnt-funds actor.
var (
	BurntFundsAddress address.Address
	MinerAddress      address.Address

	// GenesisCid is the fixed CID of the genesis block. The header stored
	// under it is generated from the wallet seed, so the CID is pinned
	// rather than content-derived.
	GenesisCid cid.Cid
)

func init() {
	var err error
	if BurntFundsAddress, err = address.NewFromString("t099"); err != nil {
		panic(err)
	}
	if MinerAddress, err = address.NewFromString("t01000"); err != nil {
		panic(err)
	}
	if GenesisCid, err = cid.Decode("bafyreiaqpwbbyjo4a42saasj36kkrpv4tsherf2e7bvezkert2a7dhonoi"); err != nil {
		panic(err)
	}
}

// Config collects the simulator's tunables. The zero BlockTime selects
// instamine mode: every accepted message immediately seals a tipset.
type Config struct {
	BlockTime time.Duration

	// Seed keys the deterministic PRNG used for account generation and
	// ticket material, so a given seed always yields the same wallets.
	Seed int64

	TotalAccounts  int
	DefaultBalance big.Int // per seeded account, in attoFIL

	DataDir string

	// ObjectStoreAddr is the listen address of the IPFS-like object store
	// HTTP facade. Empty disables the server (the in-memory store is still
	// used internally).
	ObjectStoreAddr string
}

var DefaultConfig = Config{
	BlockTime:       0,
	Seed:            1337,
	TotalAccounts:   10,
	DefaultBalance:  FIL(100),
	ObjectStoreAddr: "127.0.0.1:5001",
}

// FIL returns n whole FIL as an attoFIL amount.
func FIL(n int64) big.Int {
	return big.Mul(big.NewInt(n), big.NewInt(FilecoinPrecision))
}

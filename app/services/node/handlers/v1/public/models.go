package public

import (
	"github.com/ardanlabs/powchain/business/sys/validate"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

type tx struct {
	Amount        uint64 `json:"amount"`
	FromAddress   string `json:"from_address" validate:"required,eth_addr"`
	FromPublicKey string `json:"from_public_key" validate:"required"`
	Signature     string `json:"signature" validate:"required"`
	ToAddress     string `json:"to_address" validate:"required,eth_addr"`
	TxID          string `json:"tx_id" validate:"required"`
}

func (t tx) toDB() database.Tx {
	return database.Tx{
		Amount:        t.Amount,
		FromAddress:   t.FromAddress,
		FromPublicKey: t.FromPublicKey,
		Signature:     t.Signature,
		ToAddress:     t.ToAddress,
		TxID:          t.TxID,
	}
}

type submitTx struct {
	Transaction tx `json:"transaction"`
}

// Validate checks the data in the model is considered clean.
func (s submitTx) Validate() error {
	return validate.Check(s)
}

type pendingTx struct {
	TxID        string `json:"tx_id"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
	ToAddress   string `json:"to_address"`
	ToName      string `json:"to_name"`
	Amount      uint64 `json:"amount"`
}

type status struct {
	Status string `json:"status"`
}

type nodeStatus struct {
	Miner            string   `json:"miner"`
	Host             string   `json:"host"`
	LatestBlockHash  string   `json:"latest_block_hash"`
	LatestBlockIndex uint64   `json:"latest_block_index"`
	Difficulty       uint     `json:"difficulty"`
	Mining           bool     `json:"mining"`
	Mempool          int      `json:"mempool"`
	KnownPeers       []string `json:"known_peers"`
}

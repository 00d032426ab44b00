package private

import (
	"github.com/ardanlabs/powchain/business/sys/validate"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

type registerRequest struct {
	Peer string `json:"peer" validate:"required,hostname_port"`
}

// Validate checks the data in the model is considered clean.
func (r registerRequest) Validate() error {
	return validate.Check(r)
}

type registerResponse struct {
	Peers []string `json:"peers"`
}

type receiveBlockRequest struct {
	Miner string             `json:"miner" validate:"omitempty,hostname_port"`
	Block database.BlockData `json:"block"`
}

// Validate checks the data in the model is considered clean.
func (r receiveBlockRequest) Validate() error {
	return validate.Check(r)
}

type submitTxRequest struct {
	Transaction database.Tx `json:"transaction"`
	Peer        string      `json:"peer" validate:"omitempty,hostname_port"`
}

// Validate checks the data in the model is considered clean.
func (r submitTxRequest) Validate() error {
	return validate.Check(r)
}

type status struct {
	Status string `json:"status"`
}

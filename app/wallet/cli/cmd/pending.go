package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type pendingTx struct {
	TxID        string `json:"tx_id"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
	ToAddress   string `json:"to_address"`
	ToName      string `json:"to_name"`
	Amount      uint64 `json:"amount"`
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Print the pending transactions for your account.",
	RunE:  pendingRun,
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
}

func pendingRun(cmd *cobra.Command, args []string) error {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		return err
	}

	address := signature.PublicKeyToAddress(privateKey.PublicKey)
	color.Cyan("For Account: %s", address)

	resp, err := http.Get(fmt.Sprintf("%s/v1/tx/list", url))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var txs []pendingTx
	if err := json.NewDecoder(resp.Body).Decode(&txs); err != nil {
		return err
	}

	for _, tx := range txs {
		switch address {
		case tx.FromAddress:
			color.Red("sent %d to %s: %s", tx.Amount, tx.ToName, tx.TxID)
		case tx.ToAddress:
			color.Green("received %d from %s: %s", tx.Amount, tx.FromName, tx.TxID)
		}
	}

	return nil
}

package rpc

import "fmt"

func errBlockNotFound(n uint64) error {
	return fmt.Errorf("no block at height %d", n)
}

func errTxNotFound(txID string, n uint64) error {
	return fmt.Errorf("no transaction %s in block %d", txID, n)
}

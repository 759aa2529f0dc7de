package core

import (
	"testing"

	internalcrypto "nexachain.dev/nexachain/internal/crypto"
)

func TestTransactionListEmptyHashIsBlank(t *testing.T) {
	l := &TransactionList{}
	h, err := l.Hash()
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if h != internalcrypto.BlankSHA256 {
		t.Errorf("Hash() of empty list = %q, want BlankSHA256 %q", h, internalcrypto.BlankSHA256)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
}

func TestTransactionListHashDependsOnOrder(t *testing.T) {
	tx1 := newSignedTransaction(t)
	tx2 := newSignedTransaction(t)

	forward := &TransactionList{Transactions: []*Transaction{tx1, tx2}}
	backward := &TransactionList{Transactions: []*Transaction{tx2, tx1}}

	hf, err := forward.Hash()
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	hb, err := backward.Hash()
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if hf == hb {
		t.Errorf("Hash() was order-independent; want it to depend on transaction order")
	}
	if forward.Len() != 2 {
		t.Errorf("Len() = %d, want 2", forward.Len())
	}
}

func TestTransactionListHashStableForSameContent(t *testing.T) {
	tx := newSignedTransaction(t)
	l1 := &TransactionList{Transactions: []*Transaction{tx}}
	l2 := &TransactionList{Transactions: []*Transaction{tx}}
	h1, err := l1.Hash()
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	h2, err := l2.Hash()
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("Hash() not stable for identical content: %q != %q", h1, h2)
	}
}

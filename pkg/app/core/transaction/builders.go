package transaction

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Unsigned transaction constructors. From and Signature are filled by Verifier.Sign.

func NewTransfer(nonce uint64, token, to common.Address, amount *uint256.Int) *SignedTransaction {
	return &SignedTransaction{
		Type:     TxTypeTransfer,
		Nonce:    nonce,
		Transfer: &TransferPayload{Token: token.Hex(), To: to.Hex(), Amount: amount.Dec()},
	}
}

func NewApprove(nonce uint64, token, spender common.Address, amount *uint256.Int) *SignedTransaction {
	return &SignedTransaction{
		Type:    TxTypeApprove,
		Nonce:   nonce,
		Approve: &ApprovePayload{Token: token.Hex(), Spender: spender.Hex(), Amount: amount.Dec()},
	}
}

func NewDeposit(nonce uint64, token common.Address, amount *uint256.Int) *SignedTransaction {
	return &SignedTransaction{
		Type:  TxTypeDeposit,
		Nonce: nonce,
		Funds: &FundsPayload{Token: token.Hex(), Amount: amount.Dec()},
	}
}

func NewWithdraw(nonce uint64, token common.Address, amount *uint256.Int) *SignedTransaction {
	return &SignedTransaction{
		Type:  TxTypeWithdraw,
		Nonce: nonce,
		Funds: &FundsPayload{Token: token.Hex(), Amount: amount.Dec()},
	}
}

func NewMakeOrder(nonce uint64, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) *SignedTransaction {
	return &SignedTransaction{
		Type:  TxTypeMakeOrder,
		Nonce: nonce,
		Order: &OrderPayload{
			TokenGet:   tokenGet.Hex(),
			AmountGet:  amountGet.Dec(),
			TokenGive:  tokenGive.Hex(),
			AmountGive: amountGive.Dec(),
		},
	}
}

func NewCancelOrder(nonce, orderID uint64) *SignedTransaction {
	return &SignedTransaction{Type: TxTypeCancelOrder, Nonce: nonce, OrderRef: &OrderRefPayload{OrderID: orderID}}
}

func NewFillOrder(nonce, orderID uint64) *SignedTransaction {
	return &SignedTransaction{Type: TxTypeFillOrder, Nonce: nonce, OrderRef: &OrderRefPayload{OrderID: orderID}}
}

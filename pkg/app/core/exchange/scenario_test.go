package exchange

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/uhyunpark/tokenex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokenex/pkg/app/core/token"
)

func TestScenarioDeposit(t *testing.T) {
	f := newFixture(t, 10)
	f.fund(t, f.tk1, user1, "10")

	assert.Equal(t, tokens(t, "10"), f.x.BalanceOf(tk1Addr, user1))
	assert.Equal(t, tokens(t, "10"), f.tk1.BalanceOf(exchangeAddr))
}

func TestScenarioFillWithTenPercentFee(t *testing.T) {
	f := newFixture(t, 10)
	f.fund(t, f.tk1, user1, "1")
	f.fund(t, f.tk2, user2, "1.1")

	_, err := f.x.MakeOrder(msg(user1), tk2Addr, tokens(t, "1"), tk1Addr, tokens(t, "1"))
	require.NoError(t, err)
	_, err = f.x.FillOrder(msg(user2), 1)
	require.NoError(t, err)

	assert.True(t, f.x.BalanceOf(tk1Addr, user1).IsZero())
	assert.Equal(t, tokens(t, "1"), f.x.BalanceOf(tk2Addr, user1))
	assert.Equal(t, tokens(t, "1"), f.x.BalanceOf(tk1Addr, user2))
	assert.True(t, f.x.BalanceOf(tk2Addr, user2).IsZero())
	assert.Equal(t, tokens(t, "0.1"), f.x.BalanceOf(tk2Addr, feeAccount))
}

func TestScenarioCancelThenFill(t *testing.T) {
	f := newFixture(t, 10)
	f.fund(t, f.tk1, user1, "1")
	f.fund(t, f.tk2, user2, "5")

	rcpt, err := f.x.MakeOrder(msg(user1), tk2Addr, tokens(t, "1"), tk1Addr, tokens(t, "1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), rcpt.OrderID)

	_, err = f.x.CancelOrder(msg(user1), 1)
	require.NoError(t, err)
	assert.True(t, f.x.OrdersCancelled(1))

	for _, who := range []common.Address{user1, user2, feeAccount} {
		_, err = f.x.FillOrder(msg(who), 1)
		require.ErrorIs(t, err, ErrAlreadyTerminal)
	}
}

// snapshot renders wallet and custodial balances plus order state as strings
func snapshot(f *fixture, users []common.Address) []string {
	var out []string
	for _, tk := range []*token.Token{f.tk1, f.tk2} {
		for _, u := range append(users, exchangeAddr) {
			out = append(out, tk.BalanceOf(u).Dec()+"/"+f.x.BalanceOf(tk.Address, u).Dec())
		}
	}
	f.x.RangeOrders(func(o *orderbook.Order, st orderbook.Status) bool {
		out = append(out, st.String())
		return true
	})
	return out
}

// Any sequence of deposit / withdraw / make / cancel / fill conserves every
// token: wallets plus custody equals total supply, and custody equals the sum
// of ledger balances. Rejected calls change nothing.
func TestTokenConservation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt, uint64(rapid.IntRange(0, 100).Draw(rt, "feePercent")))
		users := []common.Address{user1, user2, feeAccount}
		toks := []*token.Token{f.tk1, f.tk2}

		for _, tk := range toks {
			for _, u := range users {
				if _, err := tk.Transfer(deployer, u, uint256.NewInt(1_000)); err != nil {
					rt.Fatal(err)
				}
				if _, err := tk.Approve(u, exchangeAddr, uint256.NewInt(1_000_000)); err != nil {
					rt.Fatal(err)
				}
			}
		}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			who := users[rapid.IntRange(0, len(users)-1).Draw(rt, "who")]
			tk := toks[rapid.IntRange(0, 1).Draw(rt, "token")]
			other := toks[rapid.IntRange(0, 1).Draw(rt, "other")]
			amt := uint256.NewInt(uint64(rapid.IntRange(0, 600).Draw(rt, "amount")))
			m := Msg{Sender: who, Timestamp: now + uint64(i)}

			before := snapshot(f, users)
			var err error
			switch rapid.IntRange(0, 4).Draw(rt, "op") {
			case 0:
				_, err = f.x.DepositToken(m, tk.Address, amt)
			case 1:
				_, err = f.x.WithdrawToken(m, tk.Address, amt)
			case 2:
				get := uint256.NewInt(uint64(rapid.IntRange(0, 600).Draw(rt, "amountGet")))
				_, err = f.x.MakeOrder(m, other.Address, get, tk.Address, amt)
			case 3:
				_, err = f.x.CancelOrder(m, uint64(rapid.IntRange(0, 10).Draw(rt, "cancelID")))
			case 4:
				_, err = f.x.FillOrder(m, uint64(rapid.IntRange(0, 10).Draw(rt, "fillID")))
			}
			if err != nil {
				after := snapshot(f, users)
				if !assert.ObjectsAreEqual(before, after) {
					rt.Fatalf("rejected call mutated state: %v", err)
				}
			}
		}

		for _, tk := range toks {
			sum := tk.BalanceOf(deployer)
			for _, u := range users {
				sum = new(uint256.Int).Add(sum, tk.BalanceOf(u))
			}
			custody := tk.BalanceOf(exchangeAddr)
			sum.Add(sum, custody)
			if !sum.Eq(tk.TotalSupply()) {
				rt.Fatalf("%s supply drifted: %s != %s", tk.Symbol, sum.Dec(), tk.TotalSupply().Dec())
			}
			if owed := f.x.Custody(tk.Address); !owed.Eq(custody) {
				rt.Fatalf("%s custody %s but ledger owes %s", tk.Symbol, custody.Dec(), owed.Dec())
			}
		}
	})
}

// Order ids are 1..n with no gaps no matter who makes them or what fails.
func TestOrderIDsDense(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt, 10)
		f.fund(rt, f.tk1, user1, "5")

		var want uint64
		n := rapid.IntRange(1, 30).Draw(rt, "n")
		for i := 0; i < n; i++ {
			who := []common.Address{user1, user2}[rapid.IntRange(0, 1).Draw(rt, "who")]
			rcpt, err := f.x.MakeOrder(msg(who), tk2Addr, uint256.NewInt(1), tk1Addr, uint256.NewInt(1))
			if who == user2 {
				if err == nil {
					rt.Fatal("unfunded make succeeded")
				}
				continue
			}
			if err != nil {
				rt.Fatal(err)
			}
			want++
			if rcpt.OrderID != want {
				rt.Fatalf("got id %d, want %d", rcpt.OrderID, want)
			}
		}
		if f.x.OrderCount() != want {
			rt.Fatalf("count %d, want %d", f.x.OrderCount(), want)
		}
	})
}

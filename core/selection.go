package core

import "sort"

// selectCoins implements spec §4.10 step 2's "smallest-subset-sum-ceiling"
// coin selection: prefer a single coin that covers target outright (the
// smallest one that does, to minimize change); otherwise accumulate coins
// greedily from largest to smallest until target is covered.
func selectCoins(coins []CoinState, target uint64) ([]CoinState, error) {
	if target == 0 {
		return nil, nil
	}

	sorted := append([]CoinState(nil), coins...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Coin.Amount < sorted[j].Coin.Amount })

	for _, cs := range sorted {
		if cs.Coin.Amount >= target {
			return []CoinState{cs}, nil
		}
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Coin.Amount > sorted[j].Coin.Amount })
	var picked []CoinState
	var sum uint64
	for _, cs := range sorted {
		picked = append(picked, cs)
		sum += cs.Coin.Amount
		if sum >= target {
			return picked, nil
		}
	}
	return nil, ErrInsufficientFunds
}

// sumCoins totals the amount across a coin set — used both by selectCoins'
// callers (to size a shortfall) and by Finalize-change to compute surplus.
func sumCoins(coins []CoinState) uint64 {
	var total uint64
	for _, cs := range coins {
		total += cs.Coin.Amount
	}
	return total
}

package core

// encodeSpendBundle serializes an ordered list of CoinSpends plus an
// aggregated BLS signature into the wire format TxBuilder's Emit step
// produces (spec §4.10 step 8) and SendTransaction/PendingTxQ resubmission
// consume: a spend count, each spend length-prefixed, then the signature.
// Shared so PendingTxQ can resubmit exactly what TxBuilder built.

import "encoding/binary"

func encodeSpendBundle(spends []CoinSpend, aggSig []byte) []byte {
	buf := make([]byte, 0, 64*len(spends)+len(aggSig)+8)
	buf = appendUint32(buf, uint32(len(spends)))
	for _, s := range spends {
		buf = appendCoinSpend(buf, s)
	}
	buf = appendBytesWithLen(buf, aggSig)
	return buf
}

func decodeSpendBundle(data []byte) ([]CoinSpend, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errInternal("spend bundle: truncated count", nil)
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	spends := make([]CoinSpend, 0, n)
	for i := uint32(0); i < n; i++ {
		s, rest, err := readCoinSpend(data)
		if err != nil {
			return nil, nil, err
		}
		spends = append(spends, s)
		data = rest
	}
	sig, rest, err := readBytesWithLen(data)
	if err != nil {
		return nil, nil, err
	}
	_ = rest
	return spends, sig, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBytesWithLen(buf, data []byte) []byte {
	buf = appendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func readBytesWithLen(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errInternal("wire: truncated length prefix", nil)
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, errInternal("wire: truncated payload", nil)
	}
	return data[:n], data[n:], nil
}

func appendCoinSpend(buf []byte, s CoinSpend) []byte {
	buf = append(buf, s.Coin.ParentID[:]...)
	buf = append(buf, s.Coin.PuzzleHash[:]...)
	buf = appendUint64(buf, s.Coin.Amount)
	buf = appendBytesWithLen(buf, s.PuzzleReveal)
	buf = appendBytesWithLen(buf, s.Solution)
	return buf
}

func readCoinSpend(data []byte) (CoinSpend, []byte, error) {
	if len(data) < 32+32+8 {
		return CoinSpend{}, nil, errInternal("wire: truncated coin spend", nil)
	}
	var c Coin
	copy(c.ParentID[:], data[:32])
	copy(c.PuzzleHash[:], data[32:64])
	c.Amount = binary.BigEndian.Uint64(data[64:72])
	data = data[72:]

	reveal, data, err := readBytesWithLen(data)
	if err != nil {
		return CoinSpend{}, nil, err
	}
	solution, data, err := readBytesWithLen(data)
	if err != nil {
		return CoinSpend{}, nil, err
	}
	return CoinSpend{Coin: c, PuzzleReveal: reveal, Solution: solution}, data, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

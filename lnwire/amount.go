package lnwire

import "github.com/btcsuite/btcd/btcutil"

// MilliSatoshi is a thousandth of a satoshi, the smallest unit the
// Lightning Network's payment amounts and fee rates are expressed in.
type MilliSatoshi uint64

// NewMSatFromSatoshis converts a satoshi amount into its millisatoshi
// equivalent.
func NewMSatFromSatoshis(sat btcutil.Amount) MilliSatoshi {
	return MilliSatoshi(sat * 1000)
}

// ToSatoshis rounds down to the nearest whole satoshi.
func (m MilliSatoshi) ToSatoshis() btcutil.Amount {
	return btcutil.Amount(m / 1000)
}

func (m MilliSatoshi) String() string {
	return formatMsat(uint64(m))
}

func formatMsat(v uint64) string {
	const suffix = " mSAT"
	if v == 0 {
		return "0" + suffix
	}
	digits := make([]byte, 0, 20)
	for v > 0 {
		digits = append(digits, byte('0'+v%10))
		v /= 10
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits) + suffix
}

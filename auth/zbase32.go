package auth

import "github.com/tv42/zbase32"

func zbase32Encode(b []byte) string {
	return zbase32.EncodeToString(b)
}

// Package random generates random identifiers such as subscription IDs.
package random

import (
	"crypto/rand"
	"math/big"
)

var alnum [62]rune

func init() {
	for i := 0; i < 10; i++ {
		alnum[i] = rune('0' + i)
	}
	for i := 0; i < 26; i++ {
		alnum[10+i] = rune('a' + i)
		alnum[36+i] = rune('A' + i)
	}
}

// Seq returns a random alphanumeric string of length n.
func Seq(n int) string {
	runes := make([]rune, n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alnum))))
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		runes[i] = alnum[idx.Int64()]
	}
	return string(runes)
}

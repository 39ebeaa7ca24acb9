package linkservice

import (
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/sqids/sqids-go"
)

// alphabet 是 Base62 字母表，UNGUESSABLE 路径逐字符从中随机取。
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// unguessableLen 32 位 Base62 约 190 bit 熵，无法枚举。
const unguessableLen = 32

var (
	sq     *sqids.Sqids
	sqOnce sync.Once
)

func getSqids() *sqids.Sqids {
	sqOnce.Do(func() {
		var err error
		sq, err = sqids.New(sqids.Options{
			Alphabet:  "k3G7QAe51FCsiWrNOYBUwM6XzZvdLT4j9JhyHKg2cVbxfERq0mSoI8lDpunPat",
			MinLength: 4,
		})
		if err != nil {
			panic("sqids init failed: " + err.Error())
		}
	})
	return sq
}

// shortAlias 把自增序号编码成 4~6 位的分享用路径。
// 注意：自增序号 + sqids 仍然可以被枚举，只适合公开分享的链接。
func shortAlias(seq uint64) (string, error) {
	return getSqids().Encode([]uint64{seq})
}

// unguessableAlias 用 crypto/rand 生成 32 位随机 Base62。
func unguessableAlias() (string, error) {
	buf := make([]byte, unguessableLen)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

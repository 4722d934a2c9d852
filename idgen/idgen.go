// Package idgen provides pluggable ID generation.
//
// Stores accept a Generator so the ID strategy is a startup-time decision:
// annotation records use Millis("note_", NanoID(9)), reading sessions use
// Prefixed("ses_", UUIDv7()).
package idgen

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Millis returns a Generator producing "<prefix><unix-ms>_<suffix>", the
// shape annotation ids have always had in stored data ("note_1700000000000_k3j9x0a2b").
func Millis(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

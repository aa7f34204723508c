package clacks

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"strconv"
	"sync/atomic"
)

// idGenerator allocates base correlation ids.
//
// The counter starts at a random value so ids from a restarted service do
// not collide with late replies addressed to the previous run. Ids are
// rendered in base 36 and never contain '_' or whitespace, so a base id
// followed by a suffix is always unambiguous.
type idGenerator struct {
	id atomic.Uint32
}

func newIDGenerator() *idGenerator {
	gen := &idGenerator{}

	var buf [4]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return gen
	}
	gen.id.Store(binary.LittleEndian.Uint32(buf[:]))

	return gen
}

func (g *idGenerator) next() string {
	return strconv.FormatUint(uint64(g.id.Add(1)), 36)
}

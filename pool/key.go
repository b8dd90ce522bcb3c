package pool

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// seed is the process-lifetime random value spec.md §4.1 requires: drawn
// once, stable for the life of the process, so two pools for the same
// (ip, port) always hash to the same key.
var (
	seedOnce sync.Once
	seed     uint64
)

func ensureSeed() {
	seedOnce.Do(func() {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			// crypto/rand failing is effectively unrecoverable; fall back
			// to a fixed value rather than leaving the seed at zero in a
			// way that's indistinguishable from "not yet seeded".
			seed = 0x9e3779b97f4a7c15
			return
		}
		seed = binary.LittleEndian.Uint64(b[:])
	})
}

// endpointKey computes the 32-bit hash of an IPv4 dotted-quad endpoint.
// It mirrors the kernel source's ipv4_hash32 + jhash_2words: parse the
// address to its 4 octets, mix them with the port under the process seed,
// using a general-purpose 32-bit hash over the resulting words.
//
// xxhash is not the kernel's jhash, but it satisfies the same contract
// spec.md §4.1 asks for — a general-purpose mixing hash over two 32-bit
// words — and is the hashing library this pack's examples actually reach
// for (chengshiwen-influxdb-cluster uses cespare/xxhash for exactly this
// kind of key derivation). See DESIGN.md for the full justification.
func endpointKey(ip string, port uint16) (uint32, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return 0, fmt.Errorf("%w: %q is not a valid IP address", ErrInvalidInput, ip)
	}
	v4 := addr.To4()
	if v4 == nil {
		return 0, fmt.Errorf("%w: %q is not an IPv4 dotted-quad", ErrInvalidInput, ip)
	}

	ensureSeed()

	var buf [8]byte
	copy(buf[0:4], v4)
	binary.LittleEndian.PutUint16(buf[4:6], port)

	d := xxhash.New()
	_, _ = d.Write(buf[:])
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], seed)
	_, _ = d.Write(seedBuf[:])

	return uint32(d.Sum64()), nil
}

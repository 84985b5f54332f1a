// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/dchest/siphash"
)

// ShortIDSize is the size of a short id used to identify inputs/outputs/
// kernels in a compact block (6 bytes).
const ShortIDSize = 6

// Hash is a 32-byte digest: a block hash, a commitment hash, and so on.
type Hash []byte

// String returns the hex representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h)
}

// Equal reports whether h and other are the same bytes.
func (h Hash) Equal(other Hash) bool {
	return bytes.Equal(h, other)
}

// ShortID derives a 6-byte identifier for h, keyed by blockHash so the same
// commitment maps to different short ids in different compact blocks.
func (h Hash) ShortID(blockHash Hash) ShortID {
	result := make(ShortID, 8)

	k0 := binary.LittleEndian.Uint64(blockHash[:8])
	k1 := binary.LittleEndian.Uint64(blockHash[8:16])

	hash := siphash.Hash(k0, k1, h)
	binary.LittleEndian.PutUint64(result, hash)

	return result[:ShortIDSize]
}

// ShortID identifies an input, output, or kernel within a compact block.
type ShortID []byte

// String returns the hex representation of the short id.
func (id ShortID) String() string {
	return hex.EncodeToString(id)
}

// ShortIDList is a sortable list of short ids, for the wire's ascending
// lexicographic ordering requirement.
type ShortIDList []ShortID

func (s ShortIDList) Len() int           { return len(s) }
func (s ShortIDList) Less(i, j int) bool { return bytes.Compare(s[i], s[j]) < 0 }
func (s ShortIDList) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

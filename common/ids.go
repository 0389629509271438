// Copyright 2018 The go-klaytn Authors
// This file is part of the go-klaytn library.
//
// The go-klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package common holds the opaque, fixed-length identifier types shared
// across the indexer: state hashes, public keys, token addresses, and the
// LRU cache abstraction used to memoize derived values.
package common

import (
	"encoding/hex"
	"fmt"
)

const (
	// StateHashLength is the byte length of a block state hash.
	StateHashLength = 32
	// PublicKeyLength is the byte length of an account public key.
	PublicKeyLength = 32
	// TokenAddressLength is the byte length of a token address.
	TokenAddressLength = 20
	// LedgerHashLength is the byte length of a staking ledger hash.
	LedgerHashLength = 32
)

// StateHash is a content-addressed, fixed-length block identifier. Equality
// is byte equality; it is never derived by the core, only accepted from the
// block digest.
type StateHash [StateHashLength]byte

func (h StateHash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero value, used to detect "no parent"
// (genesis) and "not found" sentinel returns.
func (h StateHash) IsZero() bool { return h == StateHash{} }

// Less gives the byte-lexicographic order over state hashes used as the
// final best-tip tie-break.
func (h StateHash) Less(other StateHash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// StateHashFromHex parses a hex-encoded state hash, e.g. as embedded in a
// precomputed block filename.
func StateHashFromHex(s string) (StateHash, error) {
	var h StateHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid state hash %q: %w", s, err)
	}
	if len(b) != StateHashLength {
		return h, fmt.Errorf("invalid state hash %q: want %d bytes, got %d", s, StateHashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// PublicKey is an opaque account identifier.
type PublicKey [PublicKeyLength]byte

func (p PublicKey) String() string { return hex.EncodeToString(p[:]) }
func (p PublicKey) IsZero() bool   { return p == PublicKey{} }

// PublicKeyFromHex parses a hex-encoded public key, as carried in precomputed
// block wire files (block.publicKeyFromString's ground truth).
func PublicKeyFromHex(s string) (PublicKey, error) {
	var p PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("invalid public key %q: %w", s, err)
	}
	if len(b) != PublicKeyLength {
		return p, fmt.Errorf("invalid public key %q: want %d bytes, got %d", s, PublicKeyLength, len(b))
	}
	copy(p[:], b)
	return p, nil
}

// TokenAddress is an opaque token identifier; the zero value is the native
// token.
type TokenAddress [TokenAddressLength]byte

func (t TokenAddress) String() string { return hex.EncodeToString(t[:]) }
func (t TokenAddress) IsZero() bool   { return t == TokenAddress{} }

// LedgerHash identifies a staking ledger snapshot.
type LedgerHash [LedgerHashLength]byte

func (l LedgerHash) String() string { return hex.EncodeToString(l[:]) }

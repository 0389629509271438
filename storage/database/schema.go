// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

package database

import "encoding/binary"

// Column family names.
const (
	CFBlocks               = "blocks"
	CFBlocksByHeight       = "blocks_by_height"
	CFBlocksBySlot         = "blocks_by_slot"
	CFBlockParent          = "block_parent"
	CFEvents               = "events"
	CFCanonicity           = "canonicity"
	CFCanonicalByHeight    = "canonical_by_height"
	CFLedgers              = "ledgers"
	CFBestAccount          = "best_account"
	CFBestAccountByBalance = "best_account_by_balance"
	CFStakingLedgerByEpoch = "staking_ledger_by_epoch"
	CFStakingLedgerByHash  = "staking_ledger_by_hash"
	CFZkappEvents          = "zkapp_events"
	CFZkappEventsNum       = "zkapp_events_num"
	CFMeta                 = "meta"
)

// NextEventSeqNumKey is the single reserved key in CFEvents holding the
// next sequence number to allocate.
const NextEventSeqNumKey = "next_event_seq_num"

// StoreVersionKey is the version sentinel checked on startup; a mismatch is
// fatal.
const StoreVersionKey = "indexer_store_version"

// CurrentStoreVersion is the schema version this binary writes/expects.
const CurrentStoreVersion uint32 = 1

// EncodeU32 big-endian encodes v so lexicographic key order matches
// numeric order.
func EncodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// DecodeU32 decodes a big-endian uint32 key component.
func DecodeU32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// EncodeU64 big-endian encodes v, used for balance-ordered keys.
func EncodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// DecodeU64 decodes a big-endian uint64 key component.
func DecodeU64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// HeightHashKey builds the (u32 BE length)(state hash) key shape used by
// blocks_by_height and blocks_by_slot.
func HeightHashKey(height uint32, hash []byte) []byte {
	k := make([]byte, 0, 4+len(hash))
	k = append(k, EncodeU32(height)...)
	k = append(k, hash...)
	return k
}

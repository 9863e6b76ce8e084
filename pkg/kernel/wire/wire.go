// Copyright The ZenEdge Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package wire provides little-endian byte-view accessors for the fixed
// wire structs (ring headers, doorbell block, blob headers) that live in
// the shared-memory region crossed by the IPC transport and shared blob
// heap. Nothing in this package allocates: every accessor reads or writes
// directly into a caller-owned byte slice.
package wire

import "encoding/binary"

// U16 returns the little-endian uint16 at offset off in b.
func U16(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off : off+2])
}

// PutU16 writes v as a little-endian uint16 at offset off in b.
func PutU16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:off+2], v)
}

// U32 returns the little-endian uint32 at offset off in b.
func U32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// PutU32 writes v as a little-endian uint32 at offset off in b.
func PutU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// U64 returns the little-endian uint64 at offset off in b.
func U64(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off : off+8])
}

// PutU64 writes v as a little-endian uint64 at offset off in b.
func PutU64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

// U8 returns the byte at offset off in b.
func U8(b []byte, off int) uint8 {
	return b[off]
}

// PutU8 writes v at offset off in b.
func PutU8(b []byte, off int, v uint8) {
	b[off] = v
}

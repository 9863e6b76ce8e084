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

// Package blobheap is the shared tensor heap carved out of the same
// shared-memory region as the IPC transport: a bitmap allocator over
// fixed-size blocks, handing out blob IDs the Linux bridge peer can
// resolve back to an offset without any coordination beyond the shared
// bitmap and blob headers.
package blobheap

import (
	"fmt"

	"github.com/zenedge/kernel/pkg/kernel/wire"
)

// BlockSize is the minimum allocation unit in bytes.
const BlockSize = 64

// HeapOffset is the byte offset into shared memory at which the heap's
// data region begins, past the IPC command/response rings and the
// doorbell block, which ends at 0x10100.
const HeapOffset = 0x11000

const (
	blobMagic        = 0x424C4F42 // "BLOB"
	blobHeaderSize   = 32
	tensorHeaderSize = 36
)

// BlobType identifies what kind of data a blob holds.
type BlobType uint8

const (
	BlobRaw BlobType = iota
	BlobTensor
	BlobModelRef
	BlobResult
)

// Blob flag bits.
const (
	FlagPinned   uint8 = 0x01
	FlagReadOnly uint8 = 0x02
)

// DType identifies a tensor's element type, matching the wire values the
// Linux bridge peer expects.
type DType uint8

const (
	DTypeFloat32 DType = iota
	DTypeFloat16
	DTypeInt32
	DTypeInt16
	DTypeInt8
	DTypeUint8
)

func dtypeSize(dt DType) uint32 {
	switch dt {
	case DTypeFloat32, DTypeInt32:
		return 4
	case DTypeFloat16, DTypeInt16:
		return 2
	default:
		return 1
	}
}

// MaxTensorDims bounds the number of dimensions a tensor may have.
const MaxTensorDims = 4

// BlobHeader describes one allocation in the heap.
type BlobHeader struct {
	BlobID   uint16
	Type     BlobType
	Flags    uint8
	Size     uint32
	Offset   uint32
	Checksum uint32
}

// TensorHeader describes a tensor embedded in a BlobTensor blob.
type TensorHeader struct {
	DType   DType
	NDim    uint8
	Shape   [MaxTensorDims]uint32
	Strides [MaxTensorDims]uint32
}

type blobEntry struct {
	offset uint32
	blocks uint32
}

// Heap is a bitmap-backed block allocator over a shared byte region,
// with an in-memory blob table caching blob_id -> (offset, blocks).
type Heap struct {
	data        []byte
	bitmap      []byte
	totalBlocks uint32
	freeBlocks  uint32
	nextBlobID  uint16
	blobs       map[uint16]blobEntry
}

// New creates a Heap managing data as its shared data region, in place,
// the way the kernel views its slice of the shared-memory region
// directly instead of owning a private copy.
func New(data []byte) *Heap {
	totalBlocks := uint32(len(data)) / BlockSize
	h := &Heap{
		data:        data,
		bitmap:      make([]byte, (totalBlocks+7)/8),
		totalBlocks: totalBlocks,
		freeBlocks:  totalBlocks,
		nextBlobID:  1,
		blobs:       make(map[uint16]blobEntry),
	}
	return h
}

func (h *Heap) bitmapSet(block uint32) {
	if block < h.totalBlocks {
		h.bitmap[block/8] |= 1 << (block % 8)
	}
}

func (h *Heap) bitmapClear(block uint32) {
	if block < h.totalBlocks {
		h.bitmap[block/8] &^= 1 << (block % 8)
	}
}

func (h *Heap) bitmapTest(block uint32) bool {
	if block >= h.totalBlocks {
		return true
	}
	return (h.bitmap[block/8]>>(block%8))&1 != 0
}

// findFreeBlocks returns the start block of the first run of count
// contiguous free blocks, or false if none exists.
func (h *Heap) findFreeBlocks(count uint32) (uint32, bool) {
	var start, run uint32
	for i := uint32(0); i < h.totalBlocks; i++ {
		if !h.bitmapTest(i) {
			if run == 0 {
				start = i
			}
			run++
			if run >= count {
				return start, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// computeChecksum rotates and XORs every byte of data, matching the
// simple integrity check the Linux bridge peer can recompute on its
// side without any shared crypto material.
func computeChecksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum = (sum << 1) | (sum >> 31)
		sum ^= uint32(b)
	}
	return sum
}

func (h *Heap) writeHeader(offset uint32, hdr BlobHeader) {
	wire.PutU32(h.data, int(offset)+0, blobMagic)
	wire.PutU16(h.data, int(offset)+4, hdr.BlobID)
	wire.PutU8(h.data, int(offset)+6, uint8(hdr.Type))
	wire.PutU8(h.data, int(offset)+7, hdr.Flags)
	wire.PutU32(h.data, int(offset)+8, hdr.Size)
	wire.PutU32(h.data, int(offset)+12, hdr.Offset)
	wire.PutU32(h.data, int(offset)+16, hdr.Checksum)
}

func (h *Heap) readHeader(offset uint32) (BlobHeader, bool) {
	if wire.U32(h.data, int(offset)+0) != blobMagic {
		return BlobHeader{}, false
	}
	return BlobHeader{
		BlobID:   wire.U16(h.data, int(offset)+4),
		Type:     BlobType(wire.U8(h.data, int(offset)+6)),
		Flags:    wire.U8(h.data, int(offset)+7),
		Size:     wire.U32(h.data, int(offset)+8),
		Offset:   wire.U32(h.data, int(offset)+12),
		Checksum: wire.U32(h.data, int(offset)+16),
	}, true
}

// Alloc allocates size bytes of blob data (plus a header) and returns
// its blob ID, or (0, false) if the heap has no run of free blocks
// large enough.
func (h *Heap) Alloc(size uint32, btype BlobType) (uint16, bool) {
	totalSize := size + blobHeaderSize
	blocks := (totalSize + BlockSize - 1) / BlockSize

	start, ok := h.findFreeBlocks(blocks)
	if !ok {
		return 0, false
	}

	for i := uint32(0); i < blocks; i++ {
		h.bitmapSet(start + i)
	}
	h.freeBlocks -= blocks

	blobID := h.nextBlobID
	h.nextBlobID++
	if h.nextBlobID == 0 {
		h.nextBlobID = 1
	}

	offset := start * BlockSize
	h.blobs[blobID] = blobEntry{offset: offset, blocks: blocks}

	h.writeHeader(offset, BlobHeader{
		BlobID: blobID,
		Type:   btype,
		Size:   size,
		Offset: offset + blobHeaderSize,
	})

	return blobID, true
}

// Free releases the blob's blocks back to the free pool.
func (h *Heap) Free(blobID uint16) error {
	entry, ok := h.blobs[blobID]
	if !ok {
		return fmt.Errorf("blobheap: unknown blob id %d", blobID)
	}

	start := entry.offset / BlockSize
	for i := uint32(0); i < entry.blocks; i++ {
		h.bitmapClear(start + i)
	}
	h.freeBlocks += entry.blocks

	delete(h.blobs, blobID)
	return nil
}

// GetBlob returns the blob's header, reading it through the shared
// region rather than trusting the cached entry, since the Linux bridge
// peer may have modified or freed it.
func (h *Heap) GetBlob(blobID uint16) (BlobHeader, bool) {
	entry, ok := h.blobs[blobID]
	if !ok {
		return BlobHeader{}, false
	}
	hdr, ok := h.readHeader(entry.offset)
	if !ok || hdr.BlobID != blobID {
		return BlobHeader{}, false
	}
	return hdr, true
}

// GetData returns the blob's data region.
func (h *Heap) GetData(blobID uint16) ([]byte, bool) {
	hdr, ok := h.GetBlob(blobID)
	if !ok {
		return nil, false
	}
	return h.data[hdr.Offset : hdr.Offset+hdr.Size], true
}

// UpdateChecksum recomputes and stores the blob's data checksum, to be
// called after writing new data into a blob.
func (h *Heap) UpdateChecksum(blobID uint16) error {
	entry, ok := h.blobs[blobID]
	if !ok {
		return fmt.Errorf("blobheap: unknown blob id %d", blobID)
	}
	hdr, ok := h.readHeader(entry.offset)
	if !ok {
		return fmt.Errorf("blobheap: corrupt blob header for id %d", blobID)
	}
	sum := computeChecksum(h.data[hdr.Offset : hdr.Offset+hdr.Size])
	wire.PutU32(h.data, int(entry.offset)+16, sum)
	return nil
}

// VerifyChecksum reports whether the blob's stored checksum matches its
// current data, catching corruption introduced after the last
// UpdateChecksum call.
func (h *Heap) VerifyChecksum(blobID uint16) (bool, error) {
	hdr, ok := h.GetBlob(blobID)
	if !ok {
		return false, fmt.Errorf("blobheap: unknown blob id %d", blobID)
	}
	sum := computeChecksum(h.data[hdr.Offset : hdr.Offset+hdr.Size])
	return sum == hdr.Checksum, nil
}

func tensorHeaderOffset(dataOffset uint32) int {
	return int(dataOffset)
}

func (h *Heap) writeTensorHeader(dataOffset uint32, hdr TensorHeader) {
	off := tensorHeaderOffset(dataOffset)
	wire.PutU8(h.data, off+0, uint8(hdr.DType))
	wire.PutU8(h.data, off+1, hdr.NDim)
	wire.PutU16(h.data, off+2, 0)
	for i := 0; i < MaxTensorDims; i++ {
		wire.PutU32(h.data, off+4+i*4, hdr.Shape[i])
		wire.PutU32(h.data, off+20+i*4, hdr.Strides[i])
	}
}

func (h *Heap) readTensorHeader(dataOffset uint32) TensorHeader {
	off := tensorHeaderOffset(dataOffset)
	var hdr TensorHeader
	hdr.DType = DType(wire.U8(h.data, off+0))
	hdr.NDim = wire.U8(h.data, off+1)
	for i := 0; i < MaxTensorDims; i++ {
		hdr.Shape[i] = wire.U32(h.data, off+4+i*4)
		hdr.Strides[i] = wire.U32(h.data, off+20+i*4)
	}
	return hdr
}

// AllocTensor allocates a blob sized to hold a tensor header plus
// row-major data for the given dtype and shape, and returns its blob
// ID.
func (h *Heap) AllocTensor(dtype DType, shape []uint32) (uint16, error) {
	if len(shape) == 0 || len(shape) > MaxTensorDims {
		return 0, fmt.Errorf("blobheap: tensor ndim must be 1..%d, got %d", MaxTensorDims, len(shape))
	}

	var nelems uint32 = 1
	for _, s := range shape {
		nelems *= s
	}
	dataSize := nelems * dtypeSize(dtype)
	totalSize := tensorHeaderSize + dataSize

	blobID, ok := h.Alloc(totalSize, BlobTensor)
	if !ok {
		return 0, fmt.Errorf("blobheap: no space for tensor (%d bytes)", totalSize)
	}

	hdr, _ := h.GetBlob(blobID)

	var thdr TensorHeader
	thdr.DType = dtype
	thdr.NDim = uint8(len(shape))
	stride := dtypeSize(dtype)
	for i := len(shape) - 1; i >= 0; i-- {
		thdr.Shape[i] = shape[i]
		thdr.Strides[i] = stride
		stride *= shape[i]
	}
	h.writeTensorHeader(hdr.Offset, thdr)

	return blobID, nil
}

// GetTensorData returns the tensor header and the tensor's raw data
// slice for blobID, verifying the blob is actually a tensor, its magic
// is intact, and its declared shape fits within the blob's recorded
// size, the way an untrusted remote write must be checked before use.
func (h *Heap) GetTensorData(blobID uint16) (TensorHeader, []byte, error) {
	hdr, ok := h.GetBlob(blobID)
	if !ok {
		return TensorHeader{}, nil, fmt.Errorf("blobheap: unknown blob id %d", blobID)
	}
	if hdr.Type != BlobTensor {
		return TensorHeader{}, nil, fmt.Errorf("blobheap: blob %d is not a tensor", blobID)
	}
	if hdr.Size < tensorHeaderSize {
		return TensorHeader{}, nil, fmt.Errorf("blobheap: blob %d too small for tensor header", blobID)
	}

	thdr := h.readTensorHeader(hdr.Offset)
	if thdr.NDim == 0 || thdr.NDim > MaxTensorDims {
		return TensorHeader{}, nil, fmt.Errorf("blobheap: blob %d has invalid ndim %d", blobID, thdr.NDim)
	}

	var nelems uint32 = 1
	for i := 0; i < int(thdr.NDim); i++ {
		nelems *= thdr.Shape[i]
	}
	expected := uint32(tensorHeaderSize) + nelems*dtypeSize(thdr.DType)
	if expected > hdr.Size {
		return TensorHeader{}, nil, fmt.Errorf("blobheap: blob %d tensor shape exceeds blob size", blobID)
	}

	dataStart := hdr.Offset + tensorHeaderSize
	dataEnd := hdr.Offset + expected
	return thdr, h.data[dataStart:dataEnd], nil
}

// Stats summarizes heap-wide block and blob accounting.
type Stats struct {
	TotalBytes  uint32
	FreeBytes   uint32
	UsedBytes   uint32
	TotalBlocks uint32
	FreeBlocks  uint32
	BlobCount   int
}

// Stats reports current heap accounting.
func (h *Heap) Stats() Stats {
	total := h.totalBlocks * BlockSize
	free := h.freeBlocks * BlockSize
	return Stats{
		TotalBytes:  total,
		FreeBytes:   free,
		UsedBytes:   total - free,
		TotalBlocks: h.totalBlocks,
		FreeBlocks:  h.freeBlocks,
		BlobCount:   len(h.blobs),
	}
}

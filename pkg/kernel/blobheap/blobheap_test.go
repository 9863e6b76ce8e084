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

package blobheap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenedge/kernel/pkg/kernel/blobheap"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	h := blobheap.New(make([]byte, 64*1024))
	before := h.Stats().FreeBlocks

	id, ok := h.Alloc(100, blobheap.BlobRaw)
	require.True(t, ok)
	assert.NotZero(t, id)

	after := h.Stats().FreeBlocks
	assert.Less(t, after, before)

	require.NoError(t, h.Free(id))
	assert.Equal(t, before, h.Stats().FreeBlocks)
}

func TestAllocFailsWhenHeapExhausted(t *testing.T) {
	h := blobheap.New(make([]byte, 256)) // 4 blocks of 64 bytes
	_, ok := h.Alloc(1000, blobheap.BlobRaw)
	assert.False(t, ok)
}

func TestGetDataRoundTrip(t *testing.T) {
	h := blobheap.New(make([]byte, 4096))
	id, ok := h.Alloc(16, blobheap.BlobRaw)
	require.True(t, ok)

	data, ok := h.GetData(id)
	require.True(t, ok)
	require.Len(t, data, 16)

	copy(data, []byte("hello world12345"[:16]))
	require.NoError(t, h.UpdateChecksum(id))

	valid, err := h.VerifyChecksum(id)
	require.NoError(t, err)
	assert.True(t, valid)

	data[0] = 'X'
	valid, err = h.VerifyChecksum(id)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestFreeUnknownBlobReturnsError(t *testing.T) {
	h := blobheap.New(make([]byte, 4096))
	assert.Error(t, h.Free(999))
}

func TestAllocTensorAndReadBack(t *testing.T) {
	h := blobheap.New(make([]byte, 64*1024))
	id, err := h.AllocTensor(blobheap.DTypeFloat32, []uint32{2, 3})
	require.NoError(t, err)

	hdr, data, err := h.GetTensorData(id)
	require.NoError(t, err)
	assert.Equal(t, blobheap.DTypeFloat32, hdr.DType)
	assert.EqualValues(t, 2, hdr.NDim)
	assert.EqualValues(t, 2, hdr.Shape[0])
	assert.EqualValues(t, 3, hdr.Shape[1])
	assert.Len(t, data, 2*3*4)
}

func TestGetTensorDataRejectsNonTensorBlob(t *testing.T) {
	h := blobheap.New(make([]byte, 4096))
	id, ok := h.Alloc(16, blobheap.BlobRaw)
	require.True(t, ok)

	_, _, err := h.GetTensorData(id)
	assert.Error(t, err)
}

func TestAllocTensorRejectsTooManyDims(t *testing.T) {
	h := blobheap.New(make([]byte, 4096))
	_, err := h.AllocTensor(blobheap.DTypeFloat32, []uint32{1, 2, 3, 4, 5})
	assert.Error(t, err)
}

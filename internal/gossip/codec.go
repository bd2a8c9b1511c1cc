package gossip

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"

	"TrustLedger/internal/identity"
	"TrustLedger/internal/ledger"
	"TrustLedger/internal/types"
)

// Message types. Every gossip message is [1B type][flatbuffer].
const (
	MsgPreviewRequest     byte = 0x01
	MsgPreviewResponse    byte = 0x02
	MsgRevocationRequest  byte = 0x03
	MsgRevocationResponse byte = 0x04
	MsgRevocationUpdate   byte = 0x05
)

const (
	// maxPreviewEntries bounds a decoded preview.
	maxPreviewEntries = 1 << 16

	// maxBatchSize bounds the decompressed size of a revocation batch (64 MB).
	maxBatchSize = 64 << 20
)

var (
	ErrEmptyMessage  = errors.New("empty message")
	ErrWrongType     = errors.New("unexpected message type")
	ErrMalformed     = errors.New("malformed message")
	ErrBatchTooLarge = errors.New("revocation batch too large")
)

// RevocationRequest asks a peer for every version of Authority above SinceVersion.
type RevocationRequest struct {
	RequestID    uint64
	Authority    ledger.Hash
	SinceVersion uint64
}

// MessageType returns the type byte of an encoded message.
func MessageType(data []byte) (byte, error) {
	if len(data) == 0 {
		return 0, ErrEmptyMessage
	}

	return data[0], nil
}

// frame prefixes a finished flatbuffer with its type byte.
func frame(msgType byte, builder *flatbuffers.Builder) []byte {
	fb := builder.FinishedBytes()

	out := make([]byte, 1+len(fb))
	out[0] = msgType
	copy(out[1:], fb)

	return out
}

// body checks the type byte and returns the flatbuffer payload.
func body(data []byte, want byte) ([]byte, error) {
	t, err := MessageType(data)
	if err != nil {
		return nil, err
	}

	if t != want {
		return nil, fmt.Errorf("%w: 0x%02x, want 0x%02x", ErrWrongType, t, want)
	}

	// Smallest valid table: root offset + vtable offset.
	if len(data) < 1+8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}

	return data[1:], nil
}

// guard turns a panic from reading a corrupt flatbuffer into ErrMalformed.
func guard(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrMalformed, r)
	}
}

// EncodePreviewRequest builds a preview request.
func EncodePreviewRequest(reqID uint64) []byte {
	builder := flatbuffers.NewBuilder(32)

	types.PreviewRequestStart(builder)
	types.PreviewRequestAddRequestId(builder, reqID)
	builder.Finish(types.PreviewRequestEnd(builder))

	return frame(MsgPreviewRequest, builder)
}

// DecodePreviewRequest returns the request ID of a preview request.
func DecodePreviewRequest(data []byte) (reqID uint64, err error) {
	fb, err := body(data, MsgPreviewRequest)
	if err != nil {
		return 0, err
	}

	defer guard(&err)

	return types.GetRootAsPreviewRequest(fb, 0).RequestId(), nil
}

// EncodePreviewResponse builds a preview response. Entries are sorted by
// authority so equal previews encode identically.
func EncodePreviewResponse(reqID uint64, previews map[ledger.Hash]uint64) []byte {
	hashes := make([]ledger.Hash, 0, len(previews))
	for h := range previews {
		hashes = append(hashes, h)
	}
	sortHashes(hashes)

	builder := flatbuffers.NewBuilder(64 + len(hashes)*64)

	entries := make([]flatbuffers.UOffsetT, len(hashes))
	for i, h := range hashes {
		auth := builder.CreateByteVector(h[:])

		types.PreviewEntryStart(builder)
		types.PreviewEntryAddAuthority(builder, auth)
		types.PreviewEntryAddVersion(builder, previews[h])
		entries[i] = types.PreviewEntryEnd(builder)
	}

	types.PreviewResponseStartEntriesVector(builder, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(entries[i])
	}
	vec := builder.EndVector(len(entries))

	types.PreviewResponseStart(builder)
	types.PreviewResponseAddRequestId(builder, reqID)
	types.PreviewResponseAddEntries(builder, vec)
	builder.Finish(types.PreviewResponseEnd(builder))

	return frame(MsgPreviewResponse, builder)
}

// DecodePreviewResponse parses a preview response.
func DecodePreviewResponse(data []byte) (reqID uint64, previews map[ledger.Hash]uint64, err error) {
	fb, err := body(data, MsgPreviewResponse)
	if err != nil {
		return 0, nil, err
	}

	defer guard(&err)

	resp := types.GetRootAsPreviewResponse(fb, 0)

	n := resp.EntriesLength()
	if n > maxPreviewEntries {
		return 0, nil, fmt.Errorf("%w: %d preview entries", ErrMalformed, n)
	}

	previews = make(map[ledger.Hash]uint64, n)

	var entry types.PreviewEntry
	for i := 0; i < n; i++ {
		resp.Entries(&entry, i)

		h, err := identity.HashFromBytes(entry.AuthorityBytes())
		if err != nil {
			return 0, nil, fmt.Errorf("%w: preview entry %d: %v", ErrMalformed, i, err)
		}

		previews[h] = entry.Version()
	}

	return resp.RequestId(), previews, nil
}

// EncodeRevocationRequest builds a revocation request.
func EncodeRevocationRequest(req RevocationRequest) []byte {
	builder := flatbuffers.NewBuilder(96)

	auth := builder.CreateByteVector(req.Authority[:])

	types.RevocationRequestStart(builder)
	types.RevocationRequestAddRequestId(builder, req.RequestID)
	types.RevocationRequestAddAuthority(builder, auth)
	types.RevocationRequestAddSinceVersion(builder, req.SinceVersion)
	builder.Finish(types.RevocationRequestEnd(builder))

	return frame(MsgRevocationRequest, builder)
}

// DecodeRevocationRequest parses a revocation request.
func DecodeRevocationRequest(data []byte) (req RevocationRequest, err error) {
	fb, err := body(data, MsgRevocationRequest)
	if err != nil {
		return req, err
	}

	defer guard(&err)

	r := types.GetRootAsRevocationRequest(fb, 0)

	h, err := identity.HashFromBytes(r.AuthorityBytes())
	if err != nil {
		return req, fmt.Errorf("%w: authority: %v", ErrMalformed, err)
	}

	return RevocationRequest{
		RequestID:    r.RequestId(),
		Authority:    h,
		SinceVersion: r.SinceVersion(),
	}, nil
}

// EncodeRevocationResponse builds a response carrying blobs as a zstd-compressed batch.
func EncodeRevocationResponse(reqID uint64, blobs []ledger.RevocationBlob) ([]byte, error) {
	batch := encodeBatch(blobs)

	compressed, err := compress(batch)
	if err != nil {
		return nil, fmt.Errorf("compress batch:\n%w", err)
	}

	builder := flatbuffers.NewBuilder(len(compressed) + 64)

	dataOffset := builder.CreateByteVector(compressed)

	types.RevocationResponseStart(builder)
	types.RevocationResponseAddRequestId(builder, reqID)
	types.RevocationResponseAddUncompressedSize(builder, uint64(len(batch)))
	types.RevocationResponseAddData(builder, dataOffset)
	builder.Finish(types.RevocationResponseEnd(builder))

	return frame(MsgRevocationResponse, builder), nil
}

// DecodeRevocationResponse parses a revocation response and decompresses its batch.
func DecodeRevocationResponse(data []byte) (reqID uint64, blobs []ledger.RevocationBlob, err error) {
	fb, err := body(data, MsgRevocationResponse)
	if err != nil {
		return 0, nil, err
	}

	defer guard(&err)

	resp := types.GetRootAsRevocationResponse(fb, 0)
	reqID = resp.RequestId()

	size := resp.UncompressedSize()
	if size > maxBatchSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrBatchTooLarge, size)
	}

	compressed := resp.DataBytes()
	if len(compressed) == 0 {
		return reqID, nil, nil
	}

	batch, err := decompress(compressed)
	if err != nil {
		return 0, nil, fmt.Errorf("decompress batch:\n%w", err)
	}

	if uint64(len(batch)) != size {
		return 0, nil, fmt.Errorf("%w: batch is %d bytes, header says %d", ErrMalformed, len(batch), size)
	}

	blobs, err = decodeBatch(batch)
	if err != nil {
		return 0, nil, err
	}

	return reqID, blobs, nil
}

// EncodeRevocationUpdate builds a pushed update carrying one chain element.
func EncodeRevocationUpdate(blob ledger.RevocationBlob) []byte {
	builder := flatbuffers.NewBuilder(128 + len(blob.Signature) + len(blob.Revoked)*identity.HashSize)

	builder.Finish(buildBlob(builder, blob))

	return frame(MsgRevocationUpdate, builder)
}

// DecodeRevocationUpdate parses a pushed update.
func DecodeRevocationUpdate(data []byte) (blob ledger.RevocationBlob, err error) {
	fb, err := body(data, MsgRevocationUpdate)
	if err != nil {
		return blob, err
	}

	defer guard(&err)

	return readBlob(types.GetRootAsRevocationBlob(fb, 0))
}

// encodeBatch serializes blobs as a RevocationBatch flatbuffer.
func encodeBatch(blobs []ledger.RevocationBlob) []byte {
	builder := flatbuffers.NewBuilder(256)

	offsets := make([]flatbuffers.UOffsetT, len(blobs))
	for i, b := range blobs {
		offsets[i] = buildBlob(builder, b)
	}

	types.RevocationBatchStartBlobsVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	vec := builder.EndVector(len(offsets))

	types.RevocationBatchStart(builder)
	types.RevocationBatchAddBlobs(builder, vec)
	builder.Finish(types.RevocationBatchEnd(builder))

	return builder.FinishedBytes()
}

// decodeBatch parses a RevocationBatch flatbuffer.
func decodeBatch(data []byte) ([]ledger.RevocationBlob, error) {
	batch := types.GetRootAsRevocationBatch(data, 0)

	n := batch.BlobsLength()
	out := make([]ledger.RevocationBlob, 0, n)

	var fb types.RevocationBlob
	for i := 0; i < n; i++ {
		batch.Blobs(&fb, i)

		blob, err := readBlob(&fb)
		if err != nil {
			return nil, fmt.Errorf("blob %d:\n%w", i, err)
		}

		out = append(out, blob)
	}

	return out, nil
}

// buildBlob writes one RevocationBlob table and returns its offset.
func buildBlob(builder *flatbuffers.Builder, b ledger.RevocationBlob) flatbuffers.UOffsetT {
	revoked := make([]byte, 0, len(b.Revoked)*identity.HashSize)
	for _, h := range b.Revoked {
		revoked = append(revoked, h[:]...)
	}

	auth := builder.CreateByteVector(b.AuthorityHash[:])
	sig := builder.CreateByteVector(b.Signature)
	rev := builder.CreateByteVector(revoked)

	types.RevocationBlobStart(builder)
	types.RevocationBlobAddAuthority(builder, auth)
	types.RevocationBlobAddVersion(builder, b.Version)
	types.RevocationBlobAddSignature(builder, sig)
	types.RevocationBlobAddRevoked(builder, rev)

	return types.RevocationBlobEnd(builder)
}

// readBlob copies a RevocationBlob table out of its buffer.
func readBlob(fb *types.RevocationBlob) (ledger.RevocationBlob, error) {
	h, err := identity.HashFromBytes(fb.AuthorityBytes())
	if err != nil {
		return ledger.RevocationBlob{}, fmt.Errorf("%w: authority: %v", ErrMalformed, err)
	}

	raw := fb.RevokedBytes()
	if len(raw)%identity.HashSize != 0 {
		return ledger.RevocationBlob{}, fmt.Errorf("%w: revoked set of %d bytes", ErrMalformed, len(raw))
	}

	revoked := make([]ledger.Hash, len(raw)/identity.HashSize)
	for i := range revoked {
		copy(revoked[i][:], raw[i*identity.HashSize:])
	}

	return ledger.RevocationBlob{
		AuthorityHash: h,
		Version:       fb.Version(),
		Signature:     bytes.Clone(fb.SignatureBytes()),
		Revoked:       revoked,
	}, nil
}

// compress compresses data using zstd.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress decompresses zstd data, refusing output above maxBatchSize.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBatchSize))
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}

// sortHashes orders hashes bytewise.
func sortHashes(hs []ledger.Hash) {
	sort.Slice(hs, func(i, j int) bool {
		return bytes.Compare(hs[i][:], hs[j][:]) < 0
	})
}

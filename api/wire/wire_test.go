package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"seqlog/domain/replog"
)

func TestRecordKeepsFieldPresence(t *testing.T) {
	recs := []replog.Record{
		{GlobalPosition: replog.Some(0), LocalSequence: replog.Some(0), PeerID: "a", Payload: []byte("x")},
		{LocalSequence: replog.Some(7), PeerID: "b"},
		{GlobalPosition: replog.Some(3)},
	}
	for _, want := range recs {
		got, err := UnmarshalRecord(AppendRecord(nil, want))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestZeroPositionIsEncoded(t *testing.T) {
	b := AppendRecord(nil, replog.Record{GlobalPosition: replog.Some(0)})
	require.NotEmpty(t, b)
	require.Empty(t, AppendRecord(nil, replog.Record{}))
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	b := AppendRecord(nil, replog.Record{PeerID: "a", LocalSequence: replog.Some(1)})
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	got, err := UnmarshalRecord(b)
	require.NoError(t, err)
	require.Equal(t, replog.PeerID("a"), got.PeerID)
}

func TestTruncatedInputFails(t *testing.T) {
	b := MarshalRecords([]replog.Record{{PeerID: "a", Payload: []byte("payload")}})
	_, err := UnmarshalRecords(b[:len(b)-2])
	require.Error(t, err)
}

func TestCodecMessages(t *testing.T) {
	var c Codec

	msg := &replog.SyncMessage{Items: []replog.Record{
		{LocalSequence: replog.Some(0), PeerID: "a", Payload: []byte("one")},
		{LocalSequence: replog.Some(1), PeerID: "a", Payload: []byte("two")},
	}}
	b, err := c.Marshal(msg)
	require.NoError(t, err)
	var gotMsg replog.SyncMessage
	require.NoError(t, c.Unmarshal(b, &gotMsg))
	require.Equal(t, msg.Items, gotMsg.Items)

	b, err = c.Marshal(&RangeRequest{From: replog.Some(0)})
	require.NoError(t, err)
	var req RangeRequest
	require.NoError(t, c.Unmarshal(b, &req))
	require.Equal(t, replog.Some(0), req.From)
	require.False(t, req.To.Valid)

	b, err = c.Marshal(&Ack{})
	require.NoError(t, err)
	var ack Ack
	require.NoError(t, c.Unmarshal(b, &ack))
	require.False(t, ack.Head.Valid)

	_, err = c.Marshal("nope")
	require.ErrorIs(t, err, ErrUnknownMessage)
}

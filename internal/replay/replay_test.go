package replay

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePackedUint32(t *testing.T) {
	cases := []struct {
		in   uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xAC, 0x02}},
		{math.MaxUint32, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
	}

	for _, tc := range cases {
		w := NewWriter()
		w.WritePackedUint32(tc.in)
		assert.Equal(t, tc.want, w.Bytes(), "value %d", tc.in)

		got, err := NewReader(w.Bytes()).ReadPackedUint32()
		require.NoError(t, err)
		assert.Equal(t, tc.in, got)
	}
}

func TestReadPackedUint32Overflow(t *testing.T) {
	_, err := NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x1F}).ReadPackedUint32()
	assert.ErrorIs(t, err, ErrVarintOverflow)

	_, err = NewReader([]byte{0xFF, 0xFF}).ReadPackedUint32()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestEncodeConcreteScenario(t *testing.T) {
	blob := Encode([]SessionBlock{{
		SessionID: 7,
		Packets: []Packet{
			{Inbound: true, Type: 1, Payload: []byte{0x01, 0x02}},
			{Inbound: false, Type: 2, Payload: []byte{}},
		},
	}})

	want := []byte{
		0x07,                         // session id
		0x02,                         // packet count
		0x01, 0x01, 0x02, 0x01, 0x02, // inbound, type 1, len 2, payload
		0x00, 0x02, 0x00, // outbound, type 2, len 0
	}
	assert.Equal(t, want, blob)

	blocks, err := Decode(blob)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint32(7), blocks[0].SessionID)
	require.Len(t, blocks[0].Packets, 2)
	assert.True(t, blocks[0].Packets[0].Inbound)
	assert.Equal(t, uint8(1), blocks[0].Packets[0].Type)
	assert.Equal(t, []byte{0x01, 0x02}, blocks[0].Packets[0].Payload)
	assert.False(t, blocks[0].Packets[1].Inbound)
	assert.Equal(t, uint8(2), blocks[0].Packets[1].Type)
	assert.Empty(t, blocks[0].Packets[1].Payload)
}

func TestEncodeEmpty(t *testing.T) {
	blob := Encode(nil)
	assert.Empty(t, blob)

	blocks, err := Decode(blob)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestEncodeSessionWithoutPackets(t *testing.T) {
	blob := Encode([]SessionBlock{{SessionID: 200, Packets: []Packet{}}})
	assert.Equal(t, []byte{0xC8, 0x01, 0x00}, blob)

	blocks, err := Decode(blob)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint32(200), blocks[0].SessionID)
	assert.Empty(t, blocks[0].Packets)
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 50; iter++ {
		blocks := make([]SessionBlock, rng.Intn(6))
		for i := range blocks {
			blocks[i].SessionID = rng.Uint32()
			blocks[i].Packets = make([]Packet, rng.Intn(20))
			for j := range blocks[i].Packets {
				payload := make([]byte, rng.Intn(300))
				rng.Read(payload)
				if len(payload) > 2 {
					payload[0] = 0x00
					payload[len(payload)-1] = 0xFF
				}
				blocks[i].Packets[j] = Packet{
					Inbound: rng.Intn(2) == 0,
					Type:    uint8(rng.Intn(256)),
					Payload: payload,
				}
			}
		}

		decoded, err := Decode(Encode(blocks))
		require.NoError(t, err)
		require.Len(t, decoded, len(blocks))
		for i := range blocks {
			assert.Equal(t, blocks[i].SessionID, decoded[i].SessionID)
			require.Len(t, decoded[i].Packets, len(blocks[i].Packets))
			for j := range blocks[i].Packets {
				want, got := blocks[i].Packets[j], decoded[i].Packets[j]
				assert.Equal(t, want.Inbound, got.Inbound)
				assert.Equal(t, want.Type, got.Type)
				assert.Equal(t, want.Payload, got.Payload)
			}
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := Encode([]SessionBlock{{
		SessionID: 1,
		Packets:   []Packet{{Inbound: true, Type: 9, Payload: []byte{1, 2, 3, 4}}},
	}})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := Decode(valid[:len(valid)-1])
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("bad direction", func(t *testing.T) {
		bad := append([]byte(nil), valid...)
		bad[2] = 0x05
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrInvalidDirection)
	})

	t.Run("count larger than data", func(t *testing.T) {
		_, err := Decode([]byte{0x01, 0x7F, 0x01})
		assert.ErrorIs(t, err, ErrTruncated)
	})
}

func TestSummarize(t *testing.T) {
	blocks := []SessionBlock{
		{SessionID: 1, Packets: []Packet{
			{Inbound: true, Type: 1, Payload: []byte{1, 2}},
			{Inbound: false, Type: 1, Payload: []byte{3}},
			{Inbound: true, Type: 2, Payload: nil},
		}},
		{SessionID: 2, Packets: []Packet{}},
	}

	s := Summarize(blocks, 42)
	assert.Equal(t, 3, s.Packets)
	assert.Equal(t, 42, s.Bytes)
	require.Len(t, s.Sessions, 2)
	assert.Equal(t, SessionSummary{SessionID: 1, Inbound: 2, Outbound: 1, PayloadBytes: 3}, s.Sessions[0])
	assert.Equal(t, SessionSummary{SessionID: 2}, s.Sessions[1])
}

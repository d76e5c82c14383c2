package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		raw         string
		wantKind    Kind
		wantChannel string
		wantPayload bool
	}{
		{"ping", `{"channel":"ping","success":true}`, KindPing, "ping", false},
		{"ping without success", `{"channel":"ping"}`, KindPing, "ping", false},
		{"ack", `{"channel":"holders:MINT","success":true}`, KindAck, "holders:MINT", false},
		{"data", `{"channel":"holders:MINT","data":[{"wallet":"w1"}]}`, KindData, "holders:MINT", true},
		{"data with success false", `{"channel":"holders:MINT","success":false,"data":{}}`, KindData, "holders:MINT", true},
		{"null data", `{"channel":"holders:MINT","data":null}`, KindData, "holders:MINT", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.raw), now)
			require.NoError(t, err)
			require.Equal(t, tt.wantKind, f.Kind)
			require.Equal(t, tt.wantChannel, f.Channel)
			require.Equal(t, tt.wantPayload, f.HasPayload())
			require.Equal(t, now, f.ReceivedAt)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte("   "), time.Now())
	require.ErrorIs(t, err, ErrEmptyFrame)

	_, err = Decode([]byte(`{"success":true}`), time.Now())
	require.ErrorIs(t, err, ErrMissingChannel)

	_, err = Decode([]byte(`{"channel":`), time.Now())
	require.Error(t, err)

	_, err = Decode([]byte(`[1,2,3]`), time.Now())
	require.Error(t, err)
}

func TestControl_Encode(t *testing.T) {
	data, err := Control{
		Action:  ActionSubscribe,
		Channel: "transactions:MINT",
		Params:  Params{"min_sol": 1},
	}.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"action":"subscribe","channel":"transactions:MINT","params":{"min_sol":1}}`, string(data))

	data, err = Control{Action: ActionUnsubscribe, Channel: "transactions:MINT"}.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"action":"unsubscribe","channel":"transactions:MINT"}`, string(data))
}

package domain

import "testing"

func TestSignalKey(t *testing.T) {
	base := Signal{SenderID: "alice", Type: SignalCandidate, Data: `{"candidate":"candidate:1 1 udp 1 10.0.0.1 1 typ host"}`, Timestamp: 1700000000000}

	sameLen := base
	sameLen.Data = `{"candidate":"candidate:2 1 udp 1 10.0.0.2 1 typ host"}`

	redelivered := base

	withSeq := base
	withSeq.Seq = 7
	withSeqOtherData := sameLen
	withSeqOtherData.Seq = 7

	tests := []struct {
		name string
		a, b Signal
		same bool
	}{
		{"redelivery", base, redelivered, true},
		{"same millisecond same length", base, sameLen, false},
		{"sequence wins", withSeq, withSeqOtherData, true},
		{"sequenced vs not", base, withSeq, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Key() == tt.b.Key(); got != tt.same {
				t.Fatalf("keys %q and %q equal = %v, want %v", tt.a.Key(), tt.b.Key(), got, tt.same)
			}
		})
	}
}

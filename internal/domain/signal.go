package domain

import (
	"fmt"
	"hash/fnv"
	"strconv"
)

type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "ice-candidate"
)

func (t SignalType) Valid() bool {
	return t == SignalOffer || t == SignalAnswer || t == SignalCandidate
}

// Signal is one immutable unit of exchange. Data is opaque to everyone but the negotiator.
type Signal struct {
	SenderID  UserID     `json:"sender_id"`
	Type      SignalType `json:"type"`
	Data      string     `json:"data"`
	Timestamp int64      `json:"timestamp"`
	Seq       uint64     `json:"seq"`
}

// Key identifies a signal across redeliveries. Without a sequence number the
// payload itself is hashed in, so distinct signals from one sender within the
// same millisecond stay distinct.
func (s Signal) Key() string {
	if s.Seq != 0 {
		return string(s.SenderID) + "/" + strconv.FormatUint(s.Seq, 10)
	}
	h := fnv.New64a()
	h.Write([]byte(s.Data))
	return fmt.Sprintf("%s/%s/%d/%d/%x", s.SenderID, s.Type, s.Timestamp, len(s.Data), h.Sum64())
}

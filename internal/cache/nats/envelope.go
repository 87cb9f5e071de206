package nats

import (
	"encoding/binary"
	"errors"
	"time"

	fragcache "github.com/eugener/fragcache/internal"
)

// Stored values carry a fixed header ahead of the payload:
//
//	[0]     version
//	[1:9]   absolute deadline, unix ns (0 = none)
//	[9:17]  sliding window, ns (0 = none)
//	[17:25] current deadline, unix ns (0 = never)
const (
	envelopeVersion = 1
	headerLen       = 25
)

var errBadEnvelope = errors.New("malformed cache envelope")

type envelope struct {
	expiry   fragcache.Expiry
	deadline time.Time
	payload  []byte
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (e envelope) marshal() []byte {
	buf := make([]byte, headerLen+len(e.payload))
	buf[0] = envelopeVersion
	binary.BigEndian.PutUint64(buf[1:9], uint64(nanos(e.expiry.AbsoluteAt)))
	binary.BigEndian.PutUint64(buf[9:17], uint64(e.expiry.Sliding))
	binary.BigEndian.PutUint64(buf[17:25], uint64(nanos(e.deadline)))
	copy(buf[headerLen:], e.payload)
	return buf
}

func unmarshalEnvelope(data []byte) (envelope, error) {
	if len(data) < headerLen || data[0] != envelopeVersion {
		return envelope{}, errBadEnvelope
	}
	return envelope{
		expiry: fragcache.Expiry{
			AbsoluteAt: fromNanos(int64(binary.BigEndian.Uint64(data[1:9]))),
			Sliding:    time.Duration(binary.BigEndian.Uint64(data[9:17])),
		},
		deadline: fromNanos(int64(binary.BigEndian.Uint64(data[17:25]))),
		payload:  data[headerLen:],
	}, nil
}

func (e envelope) expired(now time.Time) bool {
	return !e.deadline.IsZero() && !now.Before(e.deadline)
}

package driveprobe

import (
	"testing"
	"time"

	"github.com/go-quicktest/qt"
)

func TestRate(t *testing.T) {
	r := Rate(100, 4*time.Second)
	qt.Assert(t, qt.IsTrue(r.Ok))
	qt.Assert(t, qt.Equals(r.Value, 25.0))

	r = Rate(0, time.Second)
	qt.Assert(t, qt.IsTrue(r.Ok))
	qt.Assert(t, qt.Equals(r.Value, 0.0))

	r = Rate(1500, 500*time.Millisecond)
	qt.Assert(t, qt.Equals(r.Value, 3000.0))
}

func TestRateEmptyWindow(t *testing.T) {
	// No meaningful rate without elapsed time, and definitely no panic.
	qt.Assert(t, qt.IsFalse(Rate(100, 0).Ok))
	qt.Assert(t, qt.IsFalse(Rate(100, -time.Second).Ok))
}

func TestHumanBytes(t *testing.T) {
	for _, tc := range []struct {
		n    float64
		want string
	}{
		{0, "0.00 B"},
		{999, "999.00 B"},
		{1000, "1.00 kB"},
		{4_200_000, "4.20 MB"},
		{1_600_000_000, "1.60 GB"},
		{2_500_000_000_000, "2.50 TB"},
	} {
		qt.Check(t, qt.Equals(HumanBytes(tc.n), tc.want))
	}
}

func TestHumanBytesScalesAfterDividing(t *testing.T) {
	// The rate is computed in raw bytes first, then scaled. 1.6 GB over 100s
	// is 16 MB/s, not 0.016 "GB-units"/s.
	r := Rate(1_600_000_000, 100*time.Second)
	qt.Assert(t, qt.IsTrue(r.Ok))
	qt.Assert(t, qt.Equals(HumanBytes(r.Value), "16.00 MB"))
}

func TestBestRemote(t *testing.T) {
	ss := StreamStats{
		Length:           10,
		ContiguousLength: 4,
		Peers: []StreamPeer{
			{PublicKey: "a", RemoteLength: 100, RemoteContiguousLength: 10},
			{PublicKey: "b", RemoteLength: 50, RemoteContiguousLength: 50},
		},
	}
	l, cl := BestRemote(ss)
	qt.Assert(t, qt.Equals(l, int64(100)))
	qt.Assert(t, qt.Equals(cl, int64(50)))

	l, cl = BestRemote(StreamStats{})
	qt.Assert(t, qt.Equals(l, int64(0)))
	qt.Assert(t, qt.Equals(cl, int64(0)))
}

func TestDeriveRatesEmptyWindow(t *testing.T) {
	rates := DeriveRates(Snapshot{Transport: TransportStats{BytesReceived: 5}}, 0)
	qt.Assert(t, qt.IsFalse(rates.BytesReceived.Ok))
	qt.Assert(t, qt.IsFalse(rates.PacketsDropped.Ok))
}

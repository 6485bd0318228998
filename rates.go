package driveprobe

import (
	"fmt"
	"time"

	g "github.com/anacrolix/generics"
)

// Rate returns counts per second over the elapsed window. There is no
// meaningful rate for an empty window: callers get None and must render it
// explicitly rather than dividing by zero.
func Rate(count int64, elapsed time.Duration) g.Option[float64] {
	if elapsed <= 0 {
		return g.None[float64]()
	}
	return g.Some(float64(count) / elapsed.Seconds())
}

var byteUnits = []string{"B", "kB", "MB", "GB", "TB", "PB", "EB"}

// HumanBytes scales n to the largest 1000-based unit, two decimal places.
func HumanBytes(n float64) string {
	i := 0
	for n >= 1000 && i < len(byteUnits)-1 {
		n /= 1000
		i++
	}
	return fmt.Sprintf("%.2f %s", n, byteUnits[i])
}

func RunningMax(current, candidate int64) int64 {
	if candidate > current {
		return candidate
	}
	return current
}

// BestRemote folds the stream's peer list into the highest claimed length and
// contiguous length. A best-known-availability signal, not a completion
// guarantee: any single peer may be behind.
func BestRemote(ss StreamStats) (length, contiguous int64) {
	for _, p := range ss.Peers {
		length = RunningMax(length, p.RemoteLength)
		contiguous = RunningMax(contiguous, p.RemoteContiguousLength)
	}
	return
}

// Rates are per-second derivations from a Snapshot. Rates are computed in raw
// units here, display scaling happens separately in the renderer: scaling
// before dividing would corrupt the unit choice.
type Rates struct {
	BytesSent       g.Option[float64]
	BytesReceived   g.Option[float64]
	PacketsSent     g.Option[float64]
	PacketsReceived g.Option[float64]
	PacketsDropped  g.Option[float64]
}

func DeriveRates(s Snapshot, elapsed time.Duration) Rates {
	return Rates{
		BytesSent:       Rate(s.Transport.BytesSent, elapsed),
		BytesReceived:   Rate(s.Transport.BytesReceived, elapsed),
		PacketsSent:     Rate(s.Transport.PacketsSent, elapsed),
		PacketsReceived: Rate(s.Transport.PacketsReceived, elapsed),
		PacketsDropped:  Rate(s.Transport.PacketsDropped, elapsed),
	}
}

package bridge

import (
	"encoding/json"

	g "github.com/anacrolix/generics"

	"github.com/driveprobe/driveprobe"
)

// frame is the single message shape on the daemon socket. Requests carry an
// id and a method, responses echo the id with a result or an error, and
// unsolicited events carry only an event name and a payload.
type frame struct {
	Id     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Event  string          `json:"event,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type openParams struct {
	Dir string `json:"dir"`
	Key string `json:"key"`
}

type openResult struct {
	DiscoveryKey string `json:"discoveryKey"`
}

type joinParams struct {
	Discovery string `json:"discovery"`
	Server    bool   `json:"server"`
	Client    bool   `json:"client"`
}

type downloadParams struct {
	Path string `json:"path"`
	Wait bool   `json:"wait"`
}

type driveResult struct {
	Metadata driveprobe.StreamStats  `json:"metadata"`
	Blobs    *driveprobe.StreamStats `json:"blobs"`
}

type addrInfo struct {
	Host       *string `json:"host"`
	Firewalled bool    `json:"firewalled"`
}

type statsResult struct {
	Transport   driveprobe.TransportStats      `json:"transport"`
	Conn        driveprobe.ConnCounters        `json:"connection"`
	Addr        addrInfo                       `json:"address"`
	Replication driveprobe.ReplicationCounters `json:"replication"`
}

func (r statsResult) bundle() driveprobe.StatsBundle {
	b := driveprobe.StatsBundle{
		Transport:   r.Transport,
		Conn:        r.Conn,
		Replication: r.Replication,
	}
	b.Addr.Firewalled = r.Addr.Firewalled
	if r.Addr.Host != nil {
		b.Addr.Host = g.Some(*r.Addr.Host)
	}
	return b
}

type eventPayload struct {
	Peer  string `json:"peer"`
	Error string `json:"error"`
}

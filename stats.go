package driveprobe

import (
	"time"

	g "github.com/anacrolix/generics"
)

// TransportStats are raw socket-level counters from the transport layer.
// Monotonically non-decreasing for the lifetime of the collaborator.
type TransportStats struct {
	BytesSent       int64 `json:"bytesSent"`
	BytesReceived   int64 `json:"bytesReceived"`
	PacketsSent     int64 `json:"packetsSent"`
	PacketsReceived int64 `json:"packetsReceived"`
	PacketsDropped  int64 `json:"packetsDropped"`
}

// ConnCounters are outbound connection and loss-recovery counters from the
// swarm layer.
type ConnCounters struct {
	Attempted int64 `json:"attempted"`
	Opened    int64 `json:"opened"`
	Closed    int64 `json:"closed"`

	RetransmitTimeouts int64 `json:"retransmitTimeouts"`
	FastRecoveries     int64 `json:"fastRecoveries"`
	Retransmits        int64 `json:"retransmits"`
}

// AddrInfo is how the swarm sees us from outside. The address is unknown
// until at least one peer has been reached.
type AddrInfo struct {
	Host       g.Option[string]
	Firewalled bool
}

type DirCount struct {
	Rx int64 `json:"rx"`
	Tx int64 `json:"tx"`
}

// ReplicationCounters are per-message-type counts from the replication
// protocol, plus the number of hotswaps (the active source peer for a block
// being switched mid-retrieval).
type ReplicationCounters struct {
	Sync      DirCount `json:"sync"`
	Request   DirCount `json:"request"`
	Cancel    DirCount `json:"cancel"`
	Data      DirCount `json:"data"`
	Want      DirCount `json:"want"`
	Bitfield  DirCount `json:"bitfield"`
	Range     DirCount `json:"range"`
	Extension DirCount `json:"extension"`

	Hotswaps int64 `json:"hotswaps"`
}

// StreamPeer is one remote peer's claimed progress on a replicated stream.
type StreamPeer struct {
	PublicKey              string `json:"remotePublicKey"`
	RemoteLength           int64  `json:"remoteLength"`
	RemoteContiguousLength int64  `json:"remoteContiguousLength"`
}

// StreamStats is a point-in-time read of one replicated stream. Length may
// include gaps, ContiguousLength is the unbroken prefix received so far.
type StreamStats struct {
	Length           int64        `json:"length"`
	ContiguousLength int64        `json:"contiguousLength"`
	Peers            []StreamPeer `json:"peers"`
}

// StatsBundle groups one read of the three counter subsystems.
type StatsBundle struct {
	Transport   TransportStats
	Conn        ConnCounters
	Addr        AddrInfo
	Replication ReplicationCounters
}

// Snapshot is an immutable capture of all counters and stream state at one
// instant. The blob stream is created lazily by the collaborator once
// metadata arrives, so it's absent early in a session.
type Snapshot struct {
	Taken       time.Time
	Transport   TransportStats
	Conn        ConnCounters
	Addr        AddrInfo
	Replication ReplicationCounters
	Metadata    StreamStats
	Blobs       g.Option[StreamStats]
}

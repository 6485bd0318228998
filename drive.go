package driveprobe

import (
	"context"

	g "github.com/anacrolix/generics"
)

// Drive is a replicated tree opened on local storage. Implementations live
// outside this package: the profiler only reads stream state and issues the
// two high-level operations it needs.
type Drive interface {
	// Suspends until the drive's initial structure is loaded.
	Ready(ctx context.Context) error
	// The identity announced to the swarm for peer discovery. Valid once the
	// drive is open.
	DiscoveryKey() string
	// Point-in-time read of the metadata stream.
	Metadata(ctx context.Context) (StreamStats, error)
	// Point-in-time read of the blob stream. None until the collaborator has
	// created it, which happens lazily after metadata arrives.
	Blobs(ctx context.Context) (g.Option[StreamStats], error)
	// Suspends until the metadata stream changes.
	Update(ctx context.Context) error
	// Downloads path and everything under it, returning once replication of
	// the requested range completes.
	Download(ctx context.Context, path string) error
	Close() error
}

type JoinOptions struct {
	Server bool
	Client bool
}

const (
	SwarmEventConnection    = "connection"
	SwarmEventDisconnection = "disconnection"
	SwarmEventError         = "error"
)

// SwarmEvent is a connection-level notification from the swarm collaborator.
type SwarmEvent struct {
	Kind string
	Peer string
	Err  string
}

// Swarm is the peer-to-peer network membership for one discovery identity.
type Swarm interface {
	Join(ctx context.Context, discoveryKey string, opts JoinOptions) error
	// Connection open/close/error notifications. Closed when the swarm is
	// destroyed or the collaborator goes away.
	Events() <-chan SwarmEvent
	Destroy(ctx context.Context) error
}

// StatsSource reads the counter subsystems. Reads are cheap: collaborators
// refresh lazily with a small internal cache window, the profiler doesn't
// control the cadence.
type StatsSource interface {
	Stats(ctx context.Context) (StatsBundle, error)
}

// Backend bundles everything a Session needs from the outside world.
type Backend interface {
	OpenDrive(ctx context.Context, dir, key string) (Drive, error)
	Swarm() Swarm
	StatsSource
}

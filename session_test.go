package driveprobe

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDrive struct {
	mu       sync.Mutex
	metadata StreamStats
	blobs    g.Option[StreamStats]
	update   chan struct{}
	download chan error
	closed   int
}

func newFakeDrive(metadata StreamStats) *fakeDrive {
	return &fakeDrive{
		metadata: metadata,
		update:   make(chan struct{}, 1),
		download: make(chan error, 1),
	}
}

func (d *fakeDrive) Ready(ctx context.Context) error { return nil }

func (d *fakeDrive) DiscoveryKey() string { return "discovery" }

func (d *fakeDrive) Metadata(ctx context.Context) (StreamStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metadata, nil
}

func (d *fakeDrive) Blobs(ctx context.Context) (g.Option[StreamStats], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blobs, nil
}

func (d *fakeDrive) Update(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.update:
		return nil
	}
}

func (d *fakeDrive) Download(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-d.download:
		return err
	}
}

func (d *fakeDrive) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

type fakeSwarm struct {
	mu        sync.Mutex
	joined    []string
	destroyed int
	events    chan SwarmEvent
}

func newFakeSwarm() *fakeSwarm {
	return &fakeSwarm{events: make(chan SwarmEvent, 4)}
}

func (s *fakeSwarm) Join(ctx context.Context, discoveryKey string, opts JoinOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = append(s.joined, discoveryKey)
	return nil
}

func (s *fakeSwarm) Events() <-chan SwarmEvent { return s.events }

func (s *fakeSwarm) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed++
	if s.destroyed == 1 {
		close(s.events)
	}
	return nil
}

func (s *fakeSwarm) destroyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

type fakeBackend struct {
	drive *fakeDrive
	swarm *fakeSwarm
	stats StatsBundle
}

func (b *fakeBackend) OpenDrive(ctx context.Context, dir, key string) (Drive, error) {
	return b.drive, nil
}

func (b *fakeBackend) Swarm() Swarm { return b.swarm }

func (b *fakeBackend) Stats(ctx context.Context) (StatsBundle, error) {
	return b.stats, nil
}

func testSession(t *testing.T, b *fakeBackend, out *bytes.Buffer, interval time.Duration) (*Session, string) {
	t.Helper()
	workspace := filepath.Join(t.TempDir(), "workspace")
	s, err := NewSession(SessionConfig{
		Backend:   b,
		Key:       keyA,
		Workspace: workspace,
		Interval:  interval,
		Out:       out,
	})
	require.NoError(t, err)
	return s, workspace
}

func TestSessionCompletes(t *testing.T) {
	// Metadata is already past its empty state at join time: the wait is
	// skipped outright.
	d := newFakeDrive(StreamStats{Length: 5, ContiguousLength: 5})
	d.blobs = g.Some(StreamStats{Length: 10, ContiguousLength: 10})
	d.download <- nil
	sw := newFakeSwarm()
	b := &fakeBackend{drive: d, swarm: sw, stats: StatsBundle{
		Transport: TransportStats{BytesReceived: 1000},
	}}
	var out bytes.Buffer
	s, workspace := testSession(t, b, &out, time.Minute)

	require.NoError(t, s.Run(context.Background()))

	assert.True(t, s.milestones.FullyDownloaded().Ok)
	assert.Contains(t, out.String(), "fully downloaded:")
	assert.Equal(t, []string{"discovery"}, sw.joined)
	assert.Equal(t, 1, sw.destroyCount())
	assert.Equal(t, 1, d.closed)
	_, err := os.Stat(workspace)
	assert.True(t, os.IsNotExist(err))
}

func TestSessionAwaitsMetadata(t *testing.T) {
	d := newFakeDrive(StreamStats{Length: 1, ContiguousLength: 1})
	sw := newFakeSwarm()
	b := &fakeBackend{drive: d, swarm: sw}
	var out bytes.Buffer
	s, _ := testSession(t, b, &out, time.Minute)

	go func() {
		// First update delivers metadata, then the download completes.
		d.mu.Lock()
		d.metadata = StreamStats{Length: 4, ContiguousLength: 4}
		d.mu.Unlock()
		d.update <- struct{}{}
		d.download <- nil
	}()
	require.NoError(t, s.Run(context.Background()))

	assert.True(t, s.milestones.MetadataFound().Ok)
	assert.True(t, s.milestones.FullyDownloaded().Ok)
}

func TestSessionCancelledWhileAwaitingMetadata(t *testing.T) {
	// No peers ever show up. The only way out is cancellation, and the final
	// report and teardown must still happen.
	d := newFakeDrive(StreamStats{Length: 0})
	sw := newFakeSwarm()
	b := &fakeBackend{drive: d, swarm: sw}
	var out bytes.Buffer
	s, workspace := testSession(t, b, &out, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, s.Run(ctx))

	assert.Contains(t, out.String(), "metadata found: unknown (still connecting...)")
	assert.NotContains(t, out.String(), "fully downloaded")
	assert.Equal(t, 1, sw.destroyCount())
	assert.Equal(t, 1, d.closed)
	_, err := os.Stat(workspace)
	assert.True(t, os.IsNotExist(err))
}

func TestSessionPeriodicReports(t *testing.T) {
	d := newFakeDrive(StreamStats{Length: 5, ContiguousLength: 2})
	sw := newFakeSwarm()
	b := &fakeBackend{drive: d, swarm: sw}
	var out bytes.Buffer
	s, _ := testSession(t, b, &out, 5*time.Millisecond)

	go func() {
		time.Sleep(60 * time.Millisecond)
		d.download <- nil
	}()
	require.NoError(t, s.Run(context.Background()))

	// Several ticks plus the final report.
	assert.GreaterOrEqual(t, strings.Count(out.String(), "== report =="), 2)
}

func TestSessionNoRemoteSectionWithoutExpected(t *testing.T) {
	d := newFakeDrive(StreamStats{
		Length:           5,
		ContiguousLength: 5,
		Peers: []StreamPeer{
			{PublicKey: keyB, RemoteLength: 5, RemoteContiguousLength: 5},
		},
	})
	d.download <- nil
	sw := newFakeSwarm()
	b := &fakeBackend{drive: d, swarm: sw}
	var out bytes.Buffer
	s, _ := testSession(t, b, &out, time.Minute)

	require.NoError(t, s.Run(context.Background()))
	assert.NotContains(t, out.String(), "remote peers:")
}

func TestSessionRemoteTracking(t *testing.T) {
	d := newFakeDrive(StreamStats{
		Length:           5,
		ContiguousLength: 5,
		Peers: []StreamPeer{
			{PublicKey: keyB, RemoteLength: 5, RemoteContiguousLength: 5},
		},
	})
	d.blobs = g.Some(StreamStats{
		Length:           9,
		ContiguousLength: 9,
		Peers: []StreamPeer{
			{PublicKey: keyB, RemoteLength: 9, RemoteContiguousLength: 9},
		},
	})
	d.download <- nil
	sw := newFakeSwarm()
	b := &fakeBackend{drive: d, swarm: sw}
	var out bytes.Buffer
	workspace := filepath.Join(t.TempDir(), "workspace")
	s, err := NewSession(SessionConfig{
		Backend:         b,
		Key:             keyA,
		Workspace:       workspace,
		Interval:        time.Minute,
		Out:             &out,
		ExpectedRemotes: []string{keyB},
	})
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	assert.Contains(t, out.String(), "remote peers:")
	assert.Contains(t, out.String(), keyB+": done")
	assert.Contains(t, out.String(), "all remotes complete")
}

func TestTeardownIdempotent(t *testing.T) {
	d := newFakeDrive(StreamStats{Length: 5, ContiguousLength: 5})
	d.download <- nil
	sw := newFakeSwarm()
	b := &fakeBackend{drive: d, swarm: sw}
	var out bytes.Buffer
	s, _ := testSession(t, b, &out, time.Minute)

	require.NoError(t, s.Run(context.Background()))
	// Simulates a late interrupt racing natural completion: the finalizer
	// must not run the destroy/close/remove sequence a second time.
	s.teardown()
	s.teardown()
	assert.Equal(t, 1, sw.destroyCount())
	assert.Equal(t, 1, d.closed)
}

func TestNewSessionValidation(t *testing.T) {
	_, err := NewSession(SessionConfig{})
	assert.ErrorContains(t, err, "backend")

	_, err = NewSession(SessionConfig{Backend: &fakeBackend{}, Key: "nope"})
	assert.ErrorContains(t, err, "drive key")

	_, err = NewSession(SessionConfig{Backend: &fakeBackend{}, Key: keyA})
	assert.ErrorContains(t, err, "workspace")
}

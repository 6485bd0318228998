package driveprobe

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/anacrolix/chansync"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
)

const DefaultReportInterval = 10 * time.Second

type SessionConfig struct {
	Backend Backend
	// Drive public key, 64 hex chars.
	Key string
	// Directory exclusively owned by the session for its whole lifetime.
	// Created fresh on start, removed on teardown.
	Workspace string

	Interval time.Duration
	// Where reports go. Defaults to stdout. Diagnostics go through Logger,
	// never here.
	Out    io.Writer
	Logger log.Logger
	Clock  clock.Clock

	// Normalized public keys of peers expected to replicate the drive. Empty
	// disables remote tracking entirely.
	ExpectedRemotes []string

	Options ReportOptions
}

// Session profiles one drive download from swarm join to completion or
// cancellation. It reports at a fixed cadence while downloading and once on
// every exit path, and always reaches its teardown sequence.
type Session struct {
	cfg        SessionConfig
	milestones *Milestones

	drive Drive
	swarm Swarm

	downloadDone chansync.SetOnce
	// Written once, before downloadDone is set.
	downloadErr error

	exited       chansync.SetOnce
	teardownOnce sync.Once
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	key, err := NormalizeKey(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("drive key: %w", err)
	}
	cfg.Key = key
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("workspace required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReportInterval
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger.IsZero() {
		cfg.Logger = log.Default
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Session{
		cfg:        cfg,
		milestones: NewMilestones(cfg.Clock),
	}, nil
}

// Run executes the whole session. Only setup failures are returned as
// errors: cancellation and in-flight network failures end the session the
// same way natural completion does, through the final report and teardown.
func (s *Session) Run(ctx context.Context) error {
	if err := CreateEmptyDir(s.cfg.Workspace); err != nil {
		return err
	}
	// The workspace exists from here on. Whatever happens next must reach the
	// finalizer exactly once.
	defer s.teardown()

	drive, err := s.cfg.Backend.OpenDrive(ctx, s.cfg.Workspace, s.cfg.Key)
	if err != nil {
		return fmt.Errorf("opening drive: %w", err)
	}
	s.drive = drive
	if err := drive.Ready(ctx); err != nil {
		return fmt.Errorf("waiting for drive ready: %w", err)
	}

	s.milestones.MarkStart()

	swarm := s.cfg.Backend.Swarm()
	s.swarm = swarm
	if err := swarm.Join(ctx, drive.DiscoveryKey(), JoinOptions{Client: true}); err != nil {
		return fmt.Errorf("joining swarm: %w", err)
	}
	go s.consumeSwarmEvents(swarm.Events())

	if !s.awaitMetadata(ctx) {
		s.milestones.MarkMetadataFound()
		s.cfg.Logger.Levelf(log.Info, "metadata found after %v", fmtSeconds(s.milestones.MetadataFound().Value))
		s.downloadAndTick(ctx)
	}

	s.finish(ctx)
	return nil
}

// awaitMetadata blocks until the metadata stream advances past its empty
// initial state, reporting whether the wait was cancelled instead. The length
// check is a heuristic for "nothing downloaded yet": a root-only stream has
// length <= 1. There is deliberately no timeout here, an absent swarm just
// means waiting until someone cancels us.
func (s *Session) awaitMetadata(ctx context.Context) (cancelled bool) {
	for ctx.Err() == nil {
		md, err := s.drive.Metadata(ctx)
		if err != nil {
			s.cfg.Logger.Levelf(log.Warning, "reading metadata stream: %v", err)
		} else if md.Length > 1 {
			return false
		}
		if err := s.drive.Update(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.cfg.Logger.Levelf(log.Warning, "waiting for metadata update: %v", err)
		}
	}
	return true
}

// downloadAndTick issues the download for the full tree and reports at the
// configured cadence until the download completes or the session is
// cancelled. The ticker races the completion signal: one more tick may land
// after the download finishes and that's fine, it just renders a report with
// the completion line already present.
func (s *Session) downloadAndTick(ctx context.Context) {
	go func() {
		s.downloadErr = s.drive.Download(ctx, "/")
		s.downloadDone.Set()
	}()

	ticker := s.cfg.Clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.emitReport(ctx)
		case <-s.downloadDone.Done():
			if s.downloadErr == nil {
				s.milestones.MarkFullyDownloaded()
			} else if ctx.Err() == nil {
				s.cfg.Logger.Levelf(log.Warning, "download failed: %v", s.downloadErr)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// finish emits the final report and logs how the session ended. Guarded by
// the exited flag so a late interrupt racing natural completion can't get a
// second final report in.
func (s *Session) finish(ctx context.Context) {
	if !s.exited.Set() {
		return
	}
	if ctx.Err() != nil && !s.milestones.FullyDownloaded().Ok {
		s.cfg.Logger.Printf("cancelling before completion")
	}
	// Counter reads still have to work after cancellation, the collaborator
	// is alive until teardown.
	snap, ok := s.emitReport(context.WithoutCancel(ctx))
	if ok {
		if fd := s.milestones.FullyDownloaded(); fd.Ok && fd.Value > 0 {
			s.cfg.Logger.Printf("average download rate: %v/s",
				humanize.Bytes(uint64(float64(snap.Transport.BytesReceived)/fd.Value.Seconds())))
		}
	}
}

// emitReport captures a snapshot and writes one report. A report is all or
// nothing: if the capture fails there is no partial render, just a log line.
func (s *Session) emitReport(ctx context.Context) (snap Snapshot, ok bool) {
	snap, err := s.captureSnapshot(ctx)
	if err != nil {
		s.cfg.Logger.Levelf(log.Warning, "capturing snapshot: %v", err)
		return snap, false
	}
	elapsed := s.milestones.Elapsed()
	r := Report{
		Snapshot:        snap,
		Rates:           DeriveRates(snap, elapsed),
		Elapsed:         elapsed,
		MetadataFound:   s.milestones.MetadataFound(),
		FullyDownloaded: s.milestones.FullyDownloaded(),
		Options:         s.cfg.Options,
	}
	if len(s.cfg.ExpectedRemotes) > 0 {
		var blobPeers []StreamPeer
		if snap.Blobs.Ok {
			blobPeers = snap.Blobs.Value.Peers
		}
		r.Remotes = g.Some(ClassifyRemotes(s.cfg.ExpectedRemotes, snap.Metadata.Peers, blobPeers))
	}
	if err := WriteReport(s.cfg.Out, r); err != nil {
		s.cfg.Logger.Levelf(log.Warning, "writing report: %v", err)
		return snap, false
	}
	return snap, true
}

func (s *Session) captureSnapshot(ctx context.Context) (snap Snapshot, err error) {
	bundle, err := s.cfg.Backend.Stats(ctx)
	if err != nil {
		return snap, fmt.Errorf("reading counters: %w", err)
	}
	md, err := s.drive.Metadata(ctx)
	if err != nil {
		return snap, fmt.Errorf("reading metadata stream: %w", err)
	}
	blobs, err := s.drive.Blobs(ctx)
	if err != nil {
		return snap, fmt.Errorf("reading blob stream: %w", err)
	}
	return Snapshot{
		Taken:       s.cfg.Clock.Now(),
		Transport:   bundle.Transport,
		Conn:        bundle.Conn,
		Addr:        bundle.Addr,
		Replication: bundle.Replication,
		Metadata:    md,
		Blobs:       blobs,
	}, nil
}

func (s *Session) consumeSwarmEvents(events <-chan SwarmEvent) {
	for ev := range events {
		switch ev.Kind {
		case SwarmEventError:
			// A single failed peer connection never aborts the session.
			s.cfg.Logger.Levelf(log.Warning, "connection error (peer %q): %v", ev.Peer, ev.Err)
		default:
			s.cfg.Logger.Levelf(log.Debug, "swarm %v: %v", ev.Kind, ev.Peer)
		}
	}
}

// teardown runs the shared finalizer: destroy the swarm membership, close the
// drive, remove the workspace. Every step runs even if an earlier one fails,
// failures are logged and swallowed, the session is ending regardless. Safe
// to enter from racing exit paths, only the first entry does the work.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		ctx := context.Background()
		if s.swarm != nil {
			if err := s.swarm.Destroy(ctx); err != nil {
				s.cfg.Logger.Levelf(log.Warning, "destroying swarm: %v", err)
			}
		}
		if s.drive != nil {
			if err := s.drive.Close(); err != nil {
				s.cfg.Logger.Levelf(log.Warning, "closing drive: %v", err)
			}
		}
		if err := os.RemoveAll(s.cfg.Workspace); err != nil {
			s.cfg.Logger.Levelf(log.Warning, "removing workspace: %v", err)
		}
	})
}

// Profiles the download of a drive over its peer-to-peer swarm.
//
// Attaches to a drive daemon, joins the swarm for the given drive key as a
// client, downloads the whole tree and prints a telemetry report at a fixed
// interval and once on exit. Interrupts still produce the final report and
// clean up the workspace.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2"

	"github.com/driveprobe/driveprobe"
	"github.com/driveprobe/driveprobe/bridge"
)

var flags struct {
	Daemon    string        `help:"drive daemon websocket url" default:"ws://127.0.0.1:3282"`
	Interval  time.Duration `help:"report interval" default:"10s"`
	Address   bool          `help:"reveal our externally observed address in reports"`
	Detail    bool          `help:"include per-message replication counters"`
	Remotes   string        `help:"path to newline-delimited expected remote peer keys"`
	Workspace string        `help:"session workspace directory"`
	Key       string        `arg:"positional,required" help:"drive public key (hex)"`
}

func exitSignalHandlers(notify *missinggo.SynchronizedEvent) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	for {
		log.Printf("close signal received: %+v", <-c)
		notify.Set()
	}
}

func main() {
	defer envpprof.Stop()
	if err := mainErr(); err != nil {
		log.Printf("error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	arg.MustParse(&flags)

	key, err := driveprobe.NormalizeKey(flags.Key)
	if err != nil {
		return fmt.Errorf("drive key: %w", err)
	}
	var remotes []string
	if flags.Remotes != "" {
		f, err := os.Open(flags.Remotes)
		if err != nil {
			return fmt.Errorf("opening remote list: %w", err)
		}
		remotes, err = driveprobe.ParseRemoteList(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("parsing remote list %q: %w", flags.Remotes, err)
		}
	}
	workspace := flags.Workspace
	if workspace == "" {
		workspace = filepath.Join(os.TempDir(), "driveprobe-"+key[:16])
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stop missinggo.SynchronizedEvent
	go exitSignalHandlers(&stop)
	go func() {
		<-stop.C()
		cancel()
	}()

	client, err := bridge.Dial(ctx, flags.Daemon, log.Default)
	if err != nil {
		return fmt.Errorf("connecting to drive daemon at %q: %w", flags.Daemon, err)
	}
	defer client.Close()

	session, err := driveprobe.NewSession(driveprobe.SessionConfig{
		Backend:         client,
		Key:             key,
		Workspace:       workspace,
		Interval:        flags.Interval,
		Out:             os.Stdout,
		Logger:          log.Default,
		ExpectedRemotes: remotes,
		Options: driveprobe.ReportOptions{
			ShowAddress: flags.Address,
			ShowDetail:  flags.Detail,
		},
	})
	if err != nil {
		return err
	}
	return session.Run(ctx)
}

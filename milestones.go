package driveprobe

import (
	"time"

	g "github.com/anacrolix/generics"
	"github.com/benbjohnson/clock"
)

// Milestones records session-lifetime stamps. Each stamp is written at most
// once, first write wins, repeat marks are no-ops.
type Milestones struct {
	clock clock.Clock

	start           g.Option[time.Time]
	metadataFound   g.Option[time.Duration]
	fullyDownloaded g.Option[time.Duration]
}

func NewMilestones(cl clock.Clock) *Milestones {
	if cl == nil {
		cl = clock.New()
	}
	return &Milestones{clock: cl}
}

func (me *Milestones) MarkStart() {
	if me.start.Ok {
		return
	}
	me.start = g.Some(me.clock.Now())
}

// MarkMetadataFound stamps the elapsed time at which the metadata stream was
// first seen past its empty initial state.
func (me *Milestones) MarkMetadataFound() {
	if me.metadataFound.Ok {
		return
	}
	me.metadataFound = g.Some(me.Elapsed())
}

// MarkFullyDownloaded stamps the elapsed time at which the requested download
// operation reported completion.
func (me *Milestones) MarkFullyDownloaded() {
	if me.fullyDownloaded.Ok {
		return
	}
	me.fullyDownloaded = g.Some(me.Elapsed())
}

// Elapsed since MarkStart. Zero before the session has started.
func (me *Milestones) Elapsed() time.Duration {
	if !me.start.Ok {
		return 0
	}
	return me.clock.Now().Sub(me.start.Value)
}

func (me *Milestones) MetadataFound() g.Option[time.Duration]   { return me.metadataFound }
func (me *Milestones) FullyDownloaded() g.Option[time.Duration] { return me.fullyDownloaded }

package driveprobe

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	g "github.com/anacrolix/generics"
)

type ReportOptions struct {
	// Our externally observed address identifies us on the network. Keep it
	// out of reports unless explicitly asked for.
	ShowAddress bool
	// Include the per-message-type replication counters.
	ShowDetail bool
}

// Report is everything one render needs. Rendering is pure: the same Report
// always produces the same bytes.
type Report struct {
	Snapshot Snapshot
	Rates    Rates
	Elapsed  time.Duration

	MetadataFound   g.Option[time.Duration]
	FullyDownloaded g.Option[time.Duration]

	// Set only when remote tracking is enabled.
	Remotes g.Option[RemoteReport]

	Options ReportOptions
}

// WriteReport renders r fully into a buffer and flushes it with a single
// write, so a failed write never leaves a partial report on the stream.
func WriteReport(w io.Writer, r Report) error {
	var b bytes.Buffer
	renderReport(&b, r)
	_, err := w.Write(b.Bytes())
	return err
}

func fmtSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}

func fmtByteRate(r g.Option[float64]) string {
	if !r.Ok {
		return "n/a"
	}
	return HumanBytes(r.Value) + "/s"
}

func fmtCountRate(r g.Option[float64]) string {
	if !r.Ok {
		return "n/a"
	}
	return fmt.Sprintf("%.2f/s", r.Value)
}

func renderReport(w *bytes.Buffer, r Report) {
	fmt.Fprintf(w, "== report ==\n")
	renderGeneral(w, r)
	renderNetwork(w, r)
	renderConnection(w, r)
	renderAvailability(w, r)
	if r.Options.ShowDetail {
		renderReplication(w, r.Snapshot.Replication)
	}
	if r.Remotes.Ok {
		renderRemotes(w, r.Remotes.Value)
	}
}

func renderGeneral(w *bytes.Buffer, r Report) {
	fmt.Fprintf(w, "general:\n")
	fmt.Fprintf(w, "  elapsed: %v\n", fmtSeconds(r.Elapsed))
	if r.MetadataFound.Ok {
		fmt.Fprintf(w, "  metadata found: %v\n", fmtSeconds(r.MetadataFound.Value))
	} else {
		fmt.Fprintf(w, "  metadata found: unknown (still connecting...)\n")
	}
	if r.FullyDownloaded.Ok {
		fmt.Fprintf(w, "  fully downloaded: %v\n", fmtSeconds(r.FullyDownloaded.Value))
	}
	md := r.Snapshot.Metadata
	fmt.Fprintf(w, "  metadata: %d/%d\n", md.ContiguousLength, md.Length)
	if r.Snapshot.Blobs.Ok {
		bs := r.Snapshot.Blobs.Value
		fmt.Fprintf(w, "  blobs: %d/%d\n", bs.ContiguousLength, bs.Length)
	} else {
		fmt.Fprintf(w, "  blobs: loading\n")
	}
}

func renderNetwork(w *bytes.Buffer, r Report) {
	t := r.Snapshot.Transport
	fmt.Fprintf(w, "network:\n")
	fmt.Fprintf(w, "  bytes received: %v (%v)\n", HumanBytes(float64(t.BytesReceived)), fmtByteRate(r.Rates.BytesReceived))
	fmt.Fprintf(w, "  bytes sent: %v (%v)\n", HumanBytes(float64(t.BytesSent)), fmtByteRate(r.Rates.BytesSent))
	fmt.Fprintf(w, "  packets received: %d (%v)\n", t.PacketsReceived, fmtCountRate(r.Rates.PacketsReceived))
	fmt.Fprintf(w, "  packets sent: %d (%v)\n", t.PacketsSent, fmtCountRate(r.Rates.PacketsSent))
	fmt.Fprintf(w, "  packets dropped: %d (%v)\n", t.PacketsDropped, fmtCountRate(r.Rates.PacketsDropped))
}

func renderConnection(w *bytes.Buffer, r Report) {
	c := r.Snapshot.Conn
	a := r.Snapshot.Addr
	fmt.Fprintf(w, "connection:\n")
	switch {
	case !r.Options.ShowAddress:
		fmt.Fprintf(w, "  address: (redacted)\n")
	case a.Host.Ok:
		fmt.Fprintf(w, "  address: %v\n", a.Host.Value)
	default:
		fmt.Fprintf(w, "  address: unknown\n")
	}
	fmt.Fprintf(w, "  firewalled: %v\n", a.Firewalled)
	fmt.Fprintf(w, "  conns attempted/opened/closed: %d/%d/%d\n", c.Attempted, c.Opened, c.Closed)
	fmt.Fprintf(w, "  retransmit timeouts: %d\n", c.RetransmitTimeouts)
	fmt.Fprintf(w, "  fast recoveries: %d\n", c.FastRecoveries)
	fmt.Fprintf(w, "  retransmits: %d\n", c.Retransmits)
}

func renderAvailability(w *bytes.Buffer, r Report) {
	fmt.Fprintf(w, "availability:\n")
	l, cl := BestRemote(r.Snapshot.Metadata)
	fmt.Fprintf(w, "  metadata best remote: %d/%d\n", cl, l)
	if r.Snapshot.Blobs.Ok {
		l, cl = BestRemote(r.Snapshot.Blobs.Value)
		fmt.Fprintf(w, "  blobs best remote: %d/%d\n", cl, l)
	} else {
		fmt.Fprintf(w, "  blobs best remote: loading\n")
	}
}

func renderReplication(w *bytes.Buffer, rc ReplicationCounters) {
	fmt.Fprintf(w, "replication:\n")
	for _, row := range []struct {
		name string
		c    DirCount
	}{
		{"sync", rc.Sync},
		{"request", rc.Request},
		{"cancel", rc.Cancel},
		{"data", rc.Data},
		{"want", rc.Want},
		{"bitfield", rc.Bitfield},
		{"range", rc.Range},
		{"extension", rc.Extension},
	} {
		fmt.Fprintf(w, "  %v: rx %d, tx %d\n", row.name, row.c.Rx, row.c.Tx)
	}
	fmt.Fprintf(w, "  hotswaps: %d\n", rc.Hotswaps)
}

func renderClassification(w *bytes.Buffer, name string, sc StreamClassification) {
	fmt.Fprintf(w, "  %v:\n", name)
	keys := make([]string, 0, len(sc))
	for k := range sc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		st := sc[k]
		status := "downloading"
		if st.Done {
			status = "done"
		}
		fmt.Fprintf(w, "    %v: %v %d/%d\n", k, status, st.ContiguousLength, st.Length)
	}
}

func renderRemotes(w *bytes.Buffer, rr RemoteReport) {
	fmt.Fprintf(w, "remote peers:\n")
	renderClassification(w, "metadata", rr.Metadata)
	renderClassification(w, "blobs", rr.Blobs)
	if rr.AllDone {
		fmt.Fprintf(w, "  all remotes complete\n")
	} else {
		fmt.Fprintf(w, "  not all remotes complete\n")
	}
}

package driveprobe

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// PeerStatus is one expected remote's classification on a single stream.
type PeerStatus struct {
	Done             bool
	Length           int64
	ContiguousLength int64
}

// StreamClassification maps normalized public keys to their status on one
// stream. Expected peers absent from the live list are omitted: they're not
// currently visible, which is not an error.
type StreamClassification map[string]PeerStatus

// RemoteReport classifies the expected remotes against the live peer lists
// of both streams, recomputed from scratch on every report tick.
type RemoteReport struct {
	Expected []string
	Metadata StreamClassification
	Blobs    StreamClassification
	// True only once every expected remote is done on both streams.
	AllDone bool
}

// A remote has finished a stream when it claims a length and holds all of it
// contiguously from the start.
func peerDone(p StreamPeer) bool {
	return p.RemoteLength > 0 && p.RemoteContiguousLength == p.RemoteLength
}

func classifyStream(expected []string, live []StreamPeer) StreamClassification {
	want := make(map[string]struct{}, len(expected))
	for _, k := range expected {
		want[k] = struct{}{}
	}
	out := make(StreamClassification)
	for _, p := range live {
		k := strings.ToLower(p.PublicKey)
		if _, ok := want[k]; !ok {
			continue
		}
		out[k] = PeerStatus{
			Done:             peerDone(p),
			Length:           p.RemoteLength,
			ContiguousLength: p.RemoteContiguousLength,
		}
	}
	return out
}

func ClassifyRemotes(expected []string, metadata, blobs []StreamPeer) RemoteReport {
	r := RemoteReport{
		Expected: expected,
		Metadata: classifyStream(expected, metadata),
		Blobs:    classifyStream(expected, blobs),
	}
	done := 0
	for _, st := range r.Metadata {
		if st.Done {
			done++
		}
	}
	for _, st := range r.Blobs {
		if st.Done {
			done++
		}
	}
	r.AllDone = len(expected) > 0 && done == 2*len(expected)
	return r
}

// NormalizeKey canonicalizes a drive or peer public key: trimmed, lower-case,
// 64 hex chars.
func NormalizeKey(s string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	if len(k) != 64 {
		return "", fmt.Errorf("key has length %d, expected 64 hex chars", len(k))
	}
	if _, err := hex.DecodeString(k); err != nil {
		return "", fmt.Errorf("key is not hex: %w", err)
	}
	return k, nil
}

// ParseRemoteList reads a newline-delimited list of expected remote peer
// keys. Blank lines and #-comments are skipped, anything else that isn't a
// valid key is rejected here, before a session starts.
func ParseRemoteList(r io.Reader) (keys []string, err error) {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		k, err := NormalizeKey(s)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		keys = append(keys, k)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

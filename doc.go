// Package driveprobe profiles the download of a single content-addressed,
// append-only replicated tree (a "drive") over a peer-to-peer swarm. A
// Session drives the download against a Backend collaborator, aggregates
// counters from the transport, swarm-connection and replication subsystems
// into derived rates, writes a structured report at a fixed cadence and once
// on the way out, and can track a named set of remote peers to see whether
// they have independently finished replicating.
//
// The swarm and replication machinery themselves are external: driveprobe
// only reads their counters and issues high-level operations (join,
// download) through the collaborator interfaces in this package.
package driveprobe

// Package relay carries room broadcasts between server nodes.
//
// Each node publishes document-updated and cursor frames to the Redis channel
// "<prefix>:doc:<documentId>" wrapped in an envelope carrying its node id, and
// pattern-subscribes to "<prefix>:doc:*". Frames from other nodes are handed to
// the local registry, which sends them to every local member. Frames a node
// published itself are ignored on receipt. Presence (user-joined/left) is not
// relayed, so active-user counts are per node.
package relay

// Package kv provides the TTL-aware key-value store that backs every
// stateful component in the service. All coordination happens through the
// store's atomicity primitives (Lua scripts, counters with TTL); the
// service itself holds no session affinity.
package kv

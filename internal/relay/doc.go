// Package relay implements the central fan-out process: it accepts bridge
// websocket connections, keeps a registry of them and forwards every change
// it receives to all other connected bridges, unchanged.
//
// The relay does no per-document ordering or conflict resolution.
package relay

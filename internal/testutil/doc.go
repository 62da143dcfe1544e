// Package testutil provides loopback servers shared by the package tests:
// scripted proxies, a CONNECT forward proxy, and TCP and WebSocket echo
// servers.
package testutil

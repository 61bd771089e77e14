/*
Package clicker locates, starts, and supervises the clicker daemon, the external
process that actually drives the browser.

Start spawns the binary with combined stdout/stderr captured and waits for it to
announce its WebSocket port on a line of output. Stop kills descendant processes
(the browser, its drivers) before the daemon itself, since on some platforms
killing the parent does not kill its children. Every started process is tracked
in a package-level registry with a shutdown hook, so no daemon outlives the
program that launched it.
*/
package clicker

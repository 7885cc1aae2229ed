/*
Package health implements endpoint probes for node reachability.

The fault monitor probes each node's endpoint on its check interval.
Probe results are advisory: they surface in the coordinator health
report but never drive liveness transitions, which belong to heartbeat
age alone.

Two checkers are provided: TCPChecker dials the endpoint's address,
HTTPChecker issues a GET and accepts a configurable status range.
Status tracks consecutive failures so a single dropped packet does not
flag a node.
*/
package health

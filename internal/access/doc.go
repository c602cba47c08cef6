// Package access decides whether an authenticated principal may act on a
// device.
//
// Two dimensions combine:
//   - role: the static permission map in package auth (SuperUser may do
//     everything; Company and Client may only read and control)
//   - ownership: a Client reaches only devices assigned to itself, a
//     Company only devices assigned to one of its clients
//
// Every denial is logged with role, id, device and action, and reported to
// an optional hook for the audit trail and metrics.
package access

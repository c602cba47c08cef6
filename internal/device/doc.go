// Package device provides the device read model used for authorisation.
//
// Device management itself lives elsewhere; this package only reads the
// fields needed to decide ownership (the assigned client) and applies the
// few mutations exposed behind the access controller: configuration
// updates, deletion and command validation.
package device

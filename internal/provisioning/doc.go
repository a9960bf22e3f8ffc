// Package provisioning turns a credential form submission into stored
// credentials and a station connection attempt.
//
// Bodies are read up to a fixed cap and parsed with a tolerant
// key=value&key=value grammar. Field bounds are enforced on the decoded
// values, and anything over them is rejected rather than truncated.
package provisioning

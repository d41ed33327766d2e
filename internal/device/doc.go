// Package device defines the device protocol client consumed by the
// heartbeat, mount, and app listing paths.
//
// The wire protocol itself lives in an external helper binary. ExecClient
// drives that helper; everything else in jitstreamer depends only on the
// Client and Session interfaces so tests can substitute fakes.
package device

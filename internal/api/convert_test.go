package api

import (
	"encoding/json"
	"strings"
	"testing"

	"jitstreamer/internal/mount"
)

func TestFromProgress(t *testing.T) {
	msg := FromProgress(mount.Progress{Done: 25, Total: 100})
	if !msg.OK || msg.Percentage != 0.25 || msg.Done || msg.Error != nil {
		t.Fatalf("unexpected frame %+v", msg)
	}

	msg = FromProgress(mount.Progress{Err: "device disconnected"})
	if msg.OK || msg.Error == nil || *msg.Error != "device disconnected" {
		t.Fatalf("unexpected failure frame %+v", msg)
	}
}

func TestResponsesEncodeNulls(t *testing.T) {
	data, err := json.Marshal(CheckMountResponse{OK: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"ok":true,"error":null,"mounting":false}` {
		t.Fatalf("unexpected encoding %s", data)
	}

	data, err = json.Marshal(GetAppsResponse{Apps: []string{}, Error: errorText("boom")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"apps":[]`) || !strings.Contains(string(data), `"bundle_ids":null`) {
		t.Fatalf("unexpected encoding %s", data)
	}
}

func TestParseVersion(t *testing.T) {
	if got := ParseVersion("1.2"); got != [3]int{1, 2, 0} {
		t.Fatalf("unexpected %v", got)
	}
	if got := ParseVersion("0.x.7"); got != [3]int{0, 0, 7} {
		t.Fatalf("unexpected %v", got)
	}
	if !versionAtLeast([3]int{1, 0, 0}, [3]int{0, 2, 0}) {
		t.Fatal("1.0.0 should satisfy 0.2.0")
	}
}

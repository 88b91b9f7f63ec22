package gossip

import (
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func entry(id string, heartbeat int64, status Status) Entry {
	return Entry{
		NodeID:        id,
		IP:            "127.0.0.1",
		ClientPort:    9042,
		PeerPort:      7000,
		LastHeartbeat: heartbeat,
		Status:        status,
	}
}

func TestMergeAppendsUnknownNodes(t *testing.T) {
	tbl := NewTable(entry("node-0", 100, StatusLive))

	newNodes, revived := tbl.Merge([]Entry{entry("node-1", 100, StatusLive)})
	if len(newNodes) != 1 || newNodes[0].NodeID != "node-1" {
		t.Errorf("newNodes = %v", newNodes)
	}
	if revived != nil {
		t.Errorf("revived = %v", revived)
	}
	if tbl.Len() != 2 {
		t.Errorf("len = %d", tbl.Len())
	}
}

func TestMergeNewerHeartbeatWins(t *testing.T) {
	tbl := NewTable(entry("node-0", 100, StatusLive))
	tbl.Merge([]Entry{entry("node-1", 100, StatusLive)})

	tbl.Merge([]Entry{entry("node-1", 200, StatusDead)})
	e, _ := tbl.Lookup("node-1")
	if e.LastHeartbeat != 200 || e.Status != StatusDead {
		t.Errorf("entry = %+v", e)
	}

	// Stale update must be ignored.
	tbl.Merge([]Entry{entry("node-1", 150, StatusLive)})
	e, _ = tbl.Lookup("node-1")
	if e.LastHeartbeat != 200 || e.Status != StatusDead {
		t.Errorf("stale update applied: %+v", e)
	}
}

func TestMergeReportsRevival(t *testing.T) {
	tbl := NewTable(entry("node-0", 100, StatusLive))
	tbl.Merge([]Entry{entry("node-1", 100, StatusDead)})

	_, revived := tbl.Merge([]Entry{entry("node-1", 300, StatusLive)})
	if len(revived) != 1 || revived[0].NodeID != "node-1" {
		t.Errorf("revived = %v", revived)
	}

	// A second merge of the same entry is stale and must not re-report.
	_, revived = tbl.Merge([]Entry{entry("node-1", 300, StatusLive)})
	if revived != nil {
		t.Errorf("duplicate revival reported: %v", revived)
	}
}

func TestTableStaysSortedAndUnique(t *testing.T) {
	tbl := NewTable(entry("node-2", 100, StatusLive))
	tbl.Merge([]Entry{
		entry("node-0", 100, StatusLive),
		entry("node-3", 100, StatusLive),
		entry("node-1", 100, StatusLive),
		entry("node-0", 120, StatusLive), // duplicate id, newer heartbeat
	})

	snapshot := tbl.Snapshot()
	ids := make([]string, len(snapshot))
	for i, e := range snapshot {
		ids[i] = e.NodeID
	}
	if !sort.StringsAreSorted(ids) {
		t.Errorf("entries not sorted: %v", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate entry for %s", id)
		}
		seen[id] = true
	}
}

func TestPhiShrinksWithSilence(t *testing.T) {
	recent := Phi(1.0, 1.0)
	old := Phi(1.0, 30.0)
	if old >= recent {
		t.Errorf("φ should shrink as silence grows: φ(1s)=%g, φ(30s)=%g", recent, old)
	}
	if Phi(1.0, 30.0) >= DeadThreshold {
		t.Errorf("a 30s silence at 1 tick/s should cross the threshold, φ=%g", Phi(1.0, 30.0))
	}
	if Phi(1.0, 2.0) < DeadThreshold {
		t.Errorf("a 2s silence should not cross the threshold, φ=%g", Phi(1.0, 2.0))
	}
}

func TestTickMarksSilentPeersDead(t *testing.T) {
	now := time.Now().Unix()
	tbl := NewTable(entry("node-0", now-60, StatusLive))
	tbl.Merge([]Entry{
		entry("node-1", now-60, StatusLive), // long silent
		entry("node-2", now-1, StatusLive),  // fresh
	})

	tbl.Tick("node-0", now, 1.0)

	self, _ := tbl.Lookup("node-0")
	if self.Status != StatusLive || self.LastHeartbeat != now {
		t.Errorf("self entry not refreshed: %+v", self)
	}
	silent, _ := tbl.Lookup("node-1")
	if silent.Status != StatusDead {
		t.Errorf("silent peer still %s", silent.Status)
	}
	fresh, _ := tbl.Lookup("node-2")
	if fresh.Status != StatusLive {
		t.Errorf("fresh peer demoted to %s", fresh.Status)
	}
}

func TestRandomLivePeerExcludesSelfAndDead(t *testing.T) {
	tbl := NewTable(entry("node-0", 100, StatusLive))
	tbl.Merge([]Entry{entry("node-1", 100, StatusDead)})

	if _, ok := tbl.RandomLivePeer("node-0"); ok {
		t.Error("no eligible peer should be found")
	}

	tbl.Merge([]Entry{entry("node-2", 200, StatusLive)})
	peer, ok := tbl.RandomLivePeer("node-0")
	if !ok || peer.NodeID != "node-2" {
		t.Errorf("peer = %+v, ok = %v", peer, ok)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := []Entry{
		entry("node-0", 100, StatusLive),
		entry("node-1", 200, StatusDead),
	}
	data, err := Encode(entries)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != entries[0] || got[1] != entries[1] {
		t.Errorf("got %v", got)
	}
}

func TestDecodeRejectsPrefixedPayload(t *testing.T) {
	data, _ := Encode([]Entry{entry("node-0", 100, StatusLive)})
	if _, err := Decode("garbage-prefix" + data); err == nil {
		t.Error("a prefixed payload must not parse")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "gossip_table")
	tbl := NewTable(entry("node-0", 100, StatusLive))
	tbl.Merge([]Entry{entry("node-1", 200, StatusLive)})

	if err := tbl.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded := NewTable(entry("node-0", 0, StatusLive))
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 2 {
		t.Errorf("len = %d", loaded.Len())
	}
	e, ok := loaded.Lookup("node-1")
	if !ok || e.LastHeartbeat != 200 {
		t.Errorf("entry = %+v, ok = %v", e, ok)
	}
}

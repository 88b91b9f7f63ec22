package ring

import (
	"fmt"
	"sort"
	"testing"
)

var nodes = []string{"node-0", "node-1", "node-2", "node-3"}

func TestHashIsDeterministic(t *testing.T) {
	a := HashKeys([]string{"EZE", "09:00"})
	b := HashKeys([]string{"EZE", "09:00"})
	if a != b {
		t.Errorf("same vector hashed differently: %d vs %d", a, b)
	}
	if HashKeys([]string{"EZE"}) == HashKeys([]string{"AEP"}) {
		t.Error("distinct vectors collided (astronomically unlikely)")
	}
}

func TestHashVectorBoundaries(t *testing.T) {
	// Joining must not confuse ["ab","c"] with ["a","bc"].
	if HashKeys([]string{"ab", "c"}) == HashKeys([]string{"a", "bc"}) {
		t.Error("vector boundaries are not part of the hash")
	}
}

func TestNodeAtWrapsAround(t *testing.T) {
	keys := []string{"some-partition"}
	primary, err := Primary(keys, nodes)
	if err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	for offset := 0; offset < len(nodes); offset++ {
		id, err := NodeAt(keys, nodes, offset)
		if err != nil {
			t.Fatal(err)
		}
		seen[id] = true
	}
	if len(seen) != len(nodes) {
		t.Errorf("offsets 0..N-1 should cover all nodes, covered %d", len(seen))
	}
	if !seen[primary] {
		t.Error("primary missing from offset sweep")
	}
}

func TestNodeAtEmptyRing(t *testing.T) {
	if _, err := NodeAt([]string{"k"}, nil, 0); err == nil {
		t.Error("expected an error for an empty ring")
	}
}

func TestSimpleReplicaSetSize(t *testing.T) {
	for factor := 1; factor <= 8; factor++ {
		repl := NewSimple(factor)
		replicas := repl.ReplicaNodes([]string{"k"}, nodes)
		want := factor
		if want > len(nodes) {
			want = len(nodes)
		}
		if len(replicas) != want {
			t.Errorf("rf=%d over %d nodes: got %d replicas", factor, len(nodes), len(replicas))
		}
	}
}

func TestSimplePrimaryIsRingSuccessor(t *testing.T) {
	for i := 0; i < 32; i++ {
		keys := []string{fmt.Sprintf("partition-%d", i)}
		primary, err := Primary(keys, nodes)
		if err != nil {
			t.Fatal(err)
		}
		replicas := NewSimple(3).ReplicaNodes(keys, nodes)
		if len(replicas) == 0 || replicas[0] != primary {
			t.Errorf("keys %v: replicas %v, primary %s", keys, replicas, primary)
		}
	}
}

func TestSimpleReplicasAreSuccessive(t *testing.T) {
	keys := []string{"k"}
	replicas := NewSimple(3).ReplicaNodes(keys, nodes)

	sorted := append([]string(nil), nodes...)
	sort.Strings(sorted)
	idx := -1
	for i, id := range sorted {
		if id == replicas[0] {
			idx = i
			break
		}
	}
	for j := 1; j < len(replicas); j++ {
		want := sorted[(idx+j)%len(sorted)]
		if replicas[j] != want {
			t.Errorf("replica %d = %s, want ring successor %s", j, replicas[j], want)
		}
	}
}

func TestSimpleReplicasDistinct(t *testing.T) {
	replicas := NewSimple(8).ReplicaNodes([]string{"k"}, nodes)
	seen := map[string]bool{}
	for _, id := range replicas {
		if seen[id] {
			t.Errorf("duplicate replica %s", id)
		}
		seen[id] = true
	}
}

func TestRandomReturnsAllWhenFewNodes(t *testing.T) {
	few := []string{"node-1", "node-0"}
	replicas := NewRandom(3).ReplicaNodes([]string{"k"}, few)
	if len(replicas) != 2 {
		t.Fatalf("with N <= RF all nodes replicate, got %v", replicas)
	}
	sort.Strings(replicas)
	if replicas[0] != "node-0" || replicas[1] != "node-1" {
		t.Errorf("got %v", replicas)
	}
}

func TestRandomReplicasDistinctAndSized(t *testing.T) {
	many := []string{"a", "b", "c", "d", "e", "f"}
	for i := 0; i < 16; i++ {
		replicas := NewRandom(3).ReplicaNodes([]string{fmt.Sprintf("k%d", i)}, many)
		if len(replicas) != 3 {
			t.Fatalf("got %d replicas, want 3", len(replicas))
		}
		seen := map[string]bool{}
		for _, id := range replicas {
			if seen[id] {
				t.Fatalf("duplicate replica in %v", replicas)
			}
			seen[id] = true
		}
	}
}

func TestParseFactor(t *testing.T) {
	cases := map[string]int{
		"1": 1, "8": 8, "THREE": 3, "three": 3, "0": 1, "9": 1, "bogus": 1,
	}
	for in, want := range cases {
		if got := ParseFactor(in); got != want {
			t.Errorf("ParseFactor(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseReplication(t *testing.T) {
	repl, err := ParseReplication("SimpleStrategy", "2")
	if err != nil || repl.Strategy != Simple || repl.Factor != 2 {
		t.Errorf("got %+v, %v", repl, err)
	}
	if _, err := ParseReplication("NetworkTopologyStrategy", "2"); err == nil {
		t.Error("expected an error for an unsupported strategy")
	}
}

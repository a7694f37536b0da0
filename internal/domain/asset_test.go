package domain

import "testing"

func TestAssetRegistry_NextVersionNumberStartsAtOne(t *testing.T) {
	reg := AssetRegistry{}
	if n := reg.NextVersionNumber(AssetSceneVideo); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	reg[AssetSceneVideo] = AssetHistory{Versions: []AssetVersion{{Version: 1}, {Version: 2}}}
	if n := reg.NextVersionNumber(AssetSceneVideo); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}

func TestAssetRegistry_BestReturnsNilWhenUnset(t *testing.T) {
	reg := AssetRegistry{AssetSceneVideo: AssetHistory{
		Versions: []AssetVersion{{Version: 1, Data: "v1"}, {Version: 2, Data: "v2"}},
		Best:     0,
	}}
	if v := reg.Best(AssetSceneVideo); v != nil {
		t.Fatalf("expected nil, got %+v", v)
	}
}

func TestAssetRegistry_BestReturnsPointedVersion(t *testing.T) {
	reg := AssetRegistry{AssetSceneVideo: AssetHistory{
		Versions: []AssetVersion{{Version: 1, Data: "v1"}, {Version: 2, Data: "v2"}},
		Best:     2,
	}}
	v := reg.Best(AssetSceneVideo)
	if v == nil || v.Data != "v2" {
		t.Fatalf("expected version 2, got %+v", v)
	}
}

func TestAssetRegistry_BestOutOfRangeIsNil(t *testing.T) {
	reg := AssetRegistry{AssetSceneVideo: AssetHistory{
		Versions: []AssetVersion{{Version: 1}},
		Best:     5,
	}}
	if v := reg.Best(AssetSceneVideo); v != nil {
		t.Fatalf("expected nil for out-of-range best, got %+v", v)
	}
}

func TestJobState_Terminal(t *testing.T) {
	terminal := []JobState{JobCompleted, JobFatal, JobCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	nonTerminal := []JobState{JobCreated, JobRunning, JobFailed}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

package util

import "testing"

func TestCacheKey(t *testing.T) {
	if got := CacheKey("s1", "r1", "group/artifact-1.0.jar"); got != "s1/r1/group/artifact-1.0.jar" {
		t.Fatalf("CacheKey = %q", got)
	}
}

func TestKVKeyEscapesUnsafeBytes(t *testing.T) {
	got := KVKey("s1", "r1", "group/a b-1.0.jar")
	want := "s1.r1.group/a=20b-1=2e0=2ejar"
	if got != want {
		t.Fatalf("KVKey = %q want %q", got, want)
	}
}

func TestKVKeyDistinctParts(t *testing.T) {
	if KVKey("a.b", "c") == KVKey("a", "b.c") {
		t.Fatal("dots inside parts must not collide with separators")
	}
}

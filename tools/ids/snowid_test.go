package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNextUnique(t *testing.T) {
	g, err := NewGenerator(3)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int64]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := g.Next()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %d after %d draws", id, i)
		}
		seen[id] = struct{}{}
	}
}

func TestNodesDoNotCollide(t *testing.T) {
	at := Epoch.Add(time.Hour)
	a, _ := NewGenerator(1)
	b, _ := NewGenerator(2)
	a.now = func() time.Time { return at }
	b.now = func() time.Time { return at }
	if x, y := a.Next(), b.Next(); x == y {
		t.Fatalf("nodes 1 and 2 both issued %d", x)
	}
}

func TestNewGeneratorRange(t *testing.T) {
	for _, n := range []int64{-1, MaxNode + 1} {
		if _, err := NewGenerator(n); err == nil {
			t.Errorf("NewGenerator(%d) accepted", n)
		}
	}
	if _, err := NewGenerator(MaxNode); err != nil {
		t.Errorf("NewGenerator(MaxNode) = %v", err)
	}
}

func TestConnIDRoundTrip(t *testing.T) {
	at := Epoch.Add(36 * time.Hour)
	g, _ := NewGenerator(7)
	g.now = func() time.Time { return at }

	id := g.ConnID()
	if !strings.HasPrefix(id, "7-") {
		t.Fatalf("ConnID = %q, want node prefix", id)
	}
	node, when, err := ParseConnID(id)
	if err != nil {
		t.Fatalf("ParseConnID(%q): %v", id, err)
	}
	if node != 7 || !when.Equal(at) {
		t.Fatalf("ParseConnID = %d %v, want 7 %v", node, when, at)
	}

	for _, bad := range []string{"", "7", "7-!!", "8-" + strings.TrimPrefix(id, "7-")} {
		if _, _, err := ParseConnID(bad); err == nil {
			t.Errorf("ParseConnID(%q) accepted", bad)
		}
	}
}

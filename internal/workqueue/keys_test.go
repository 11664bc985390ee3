package workqueue

import (
	"bytes"
	"testing"

	"github.com/rzbill/maestro/pkg/id"
)

func TestVisKeyOrdering(t *testing.T) {
	a := VisKey("q", 100, id.ID{9})
	b := VisKey("q", 200, id.ID{1})
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected visibility time ordering")
	}
}

func TestVisKeyParse(t *testing.T) {
	mid := id.ID{1, 2, 3}
	key := VisKey("jobs", 12345, mid)
	at, got, ok := parseVisKey(VisPrefix("jobs"), key)
	if !ok || at != 12345 || got != mid {
		t.Fatalf("parse: ok=%v at=%d id=%s", ok, at, got)
	}
	if _, _, ok := parseVisKey(VisPrefix("jobs"), key[:len(key)-1]); ok {
		t.Fatalf("expected short key to fail")
	}
}

func TestQueuePrefixesAreDisjoint(t *testing.T) {
	if bytes.HasPrefix(MsgKey("a", id.ID{}), MsgPrefix("ab")) {
		t.Fatalf("queue a must not fall under queue ab")
	}
	if bytes.HasPrefix(VisKey("q", 1, id.ID{}), MsgPrefix("q")) {
		t.Fatalf("index keys must not fall under message prefix")
	}
}

package dispatch

import (
	"sync/atomic"
	"testing"
)

func TestPostRunsInOrder(t *testing.T) {
	l := New("test")
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Close()

	if len(got) != 100 {
		t.Fatalf("ran %d callbacks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("callback %d ran at position %d", v, i)
		}
	}
}

func TestCallWaits(t *testing.T) {
	l := New("test")
	defer l.Close()
	var n atomic.Int32
	l.Post(func() { n.Add(1) })
	l.Call(func() { n.Add(10) })
	if got := n.Load(); got != 11 {
		t.Errorf("after Call() counter = %d, want 11", got)
	}
}

func TestPanicIsContained(t *testing.T) {
	l := New("test")
	ran := false
	l.Post(func() { panic("accessor threw") })
	l.Call(func() { ran = true })
	l.Close()
	if !ran {
		t.Error("loop stopped after a panicking callback")
	}
}

func TestPostAfterClose(t *testing.T) {
	l := New("test")
	l.Close()
	if l.Post(func() {}) {
		t.Error("Post() after Close() = true, want false")
	}
	ran := false
	l.Call(func() { ran = true })
	if !ran {
		t.Error("Call() after Close() should run inline")
	}
}

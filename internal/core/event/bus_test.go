package event

import "testing"

func TestEventsDeliveredAfterSwap(t *testing.T) {
	b := NewBus()
	var got []FocusChanged
	Subscribe(b, func(ev FocusChanged) { got = append(got, ev) })

	Emit(b, FocusChanged{Prev: 1, Next: NoInstance})
	b.DispatchAll()
	if len(got) != 0 {
		t.Fatalf("delivered before swap: %v", got)
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 || got[0].Prev != 1 || got[0].Next != NoInstance {
		t.Fatalf("got=%v", got)
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 {
		t.Fatalf("event delivered twice: %v", got)
	}
}

func TestPendingIsTyped(t *testing.T) {
	b := NewBus()
	Emit(b, InstanceListChanged{})
	Emit(b, InstanceListChanged{})
	Emit(b, InstanceSpawned{ID: 3})
	if n := len(Pending[InstanceListChanged](b)); n != 2 {
		t.Fatalf("pending list changes=%d want=2", n)
	}
	if p := Pending[InstanceSpawned](b); len(p) != 1 || p[0].ID != 3 {
		t.Fatalf("pending spawned=%v", p)
	}
	b.SwapBuffers()
	if n := len(Pending[InstanceListChanged](b)); n != 0 {
		t.Fatalf("pending after swap=%d", n)
	}
}

func TestEmitOnNilBus(t *testing.T) {
	var b *Bus
	Emit(b, InstanceListChanged{})
}

func TestDispatchKeepsEmissionOrder(t *testing.T) {
	b := NewBus()
	var got []string
	Subscribe(b, func(InstanceSpawned) { got = append(got, "spawned") })
	Subscribe(b, func(InstanceRemoved) { got = append(got, "removed") })

	Emit(b, InstanceRemoved{ID: 1})
	Emit(b, InstanceSpawned{ID: 1})
	Emit(b, InstanceRemoved{ID: 1})
	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 3 || got[0] != "removed" || got[1] != "spawned" || got[2] != "removed" {
		t.Fatalf("got=%v", got)
	}
}

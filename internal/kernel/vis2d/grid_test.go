package vis2d_test

import (
	"testing"

	"github.com/besok/parallax/internal/kernel/vis2d"
)

func TestGrid_PlaceAndRender(t *testing.T) {
	g := vis2d.New(3, 2)
	g.Place(1, 0, 'A')
	g.Place(2, 1, 'B')

	want := ".A.\n..B"
	if got := g.Render(); got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestGrid_OutOfBoundsIgnored(t *testing.T) {
	g := vis2d.New(2, 2)
	g.Place(5, 5, 'X')

	want := "..\n.."
	if got := g.Render(); got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestGrid_Clear(t *testing.T) {
	g := vis2d.New(2, 1)
	g.Place(0, 0, 'A')
	g.Clear()

	if got := g.Render(); got != ".." {
		t.Fatalf("Render() after Clear() = %q, want %q", got, "..")
	}
}

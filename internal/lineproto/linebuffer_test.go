package lineproto

import (
	"errors"
	"reflect"
	"testing"
)

func TestDrainLinesPreservesOrderAndTail(t *testing.T) {
	var got []string
	lb := New(Options{}, func(line string) error {
		got = append(got, line)
		return nil
	})

	lb.Append([]byte("one\ntwo\nthr"))
	if err := lb.DrainLines(); err != nil {
		t.Fatalf("DrainLines: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Fatalf("got %v, want [one two]", got)
	}

	lb.Append([]byte("ee\n"))
	if err := lb.DrainLines(); err != nil {
		t.Fatalf("DrainLines: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"one", "two", "three"}) {
		t.Fatalf("got %v, want [one two three]", got)
	}
}

func TestFlushFinalDeliversPartialTail(t *testing.T) {
	var got []string
	lb := New(Options{}, func(line string) error {
		got = append(got, line)
		return nil
	})
	lb.Append([]byte("incomplete"))
	if err := lb.DrainLines(); err != nil {
		t.Fatalf("DrainLines: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no lines before flush, got %v", got)
	}
	if err := lb.FlushFinal(); err != nil {
		t.Fatalf("FlushFinal: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"incomplete"}) {
		t.Fatalf("got %v, want [incomplete]", got)
	}
}

func TestSkipEmptyAndTrim(t *testing.T) {
	var got []string
	lb := New(Options{}, func(line string) error {
		got = append(got, line)
		return nil
	})
	lb.Append([]byte("  padded  \n\n\r\nkept\n"))
	if err := lb.DrainLines(); err != nil {
		t.Fatalf("DrainLines: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"padded", "kept"}) {
		t.Fatalf("got %v, want [padded kept]", got)
	}
}

func TestNoHandlerIsInvalid(t *testing.T) {
	lb := New(Options{}, nil)
	lb.Append([]byte("x\n"))
	if err := lb.DrainLines(); !errors.Is(err, ErrInvalidHandler) {
		t.Fatalf("got %v, want ErrInvalidHandler", err)
	}
}

func TestHandlerErrorWrapsLineAndPreservesTail(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	lb := New(Options{}, func(line string) error {
		calls++
		if line == "bad" {
			return boom
		}
		return nil
	})
	lb.Append([]byte("good\nbad\nnevergetshere\n"))
	err := lb.DrainLines()
	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("got %v, want *HandlerError", err)
	}
	if herr.Line != "bad" {
		t.Fatalf("got line %q, want bad", herr.Line)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom error")
	}
	if calls != 2 {
		t.Fatalf("handler called %d times, want 2", calls)
	}
	// "nevergetshere\n" remains in the tail since DrainLines stopped at the error.
	if string(lb.tail) != "nevergetshere\n" {
		t.Fatalf("tail = %q, want preserved remainder", string(lb.tail))
	}
}

func TestChunkingIndependentRoundTrip(t *testing.T) {
	// concat(drainLines(chunks)) + tail == concat(chunks), modulo trim/skip.
	full := "alpha\nbeta\ngamma\npartial"
	chunkings := [][]string{
		{full},
		{"alpha\n", "beta\n", "gamma\n", "partial"},
		{"al", "pha\nbeta\ng", "amma\npart", "ial"},
	}
	for _, chunks := range chunkings {
		var got []string
		lb := New(Options{}, func(line string) error {
			got = append(got, line)
			return nil
		})
		for _, c := range chunks {
			lb.Append([]byte(c))
			if err := lb.DrainLines(); err != nil {
				t.Fatalf("DrainLines: %v", err)
			}
		}
		if !reflect.DeepEqual(got, []string{"alpha", "beta", "gamma"}) {
			t.Fatalf("chunks %v: got %v", chunks, got)
		}
		if string(lb.tail) != "partial" {
			t.Fatalf("chunks %v: tail = %q, want partial", chunks, string(lb.tail))
		}
	}
}

package areacontext

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/serjvanilla/go-overpass"
)

func TestClassifyTags(t *testing.T) {
	residential := map[string]string{"landuse": "residential"}
	cases := []struct {
		name     string
		elements []map[string]string
		want     AreaType
	}{
		{"empty", nil, Rural},
		{"glacier", []map[string]string{{"natural": "glacier"}}, Glacial},
		{"glacier wins over town", []map[string]string{{"place": "town"}, {"natural": "Glacier"}}, Glacial},
		{"city", []map[string]string{{"place": "city", "name": "Bern"}}, Urban},
		{"village", []map[string]string{{"place": "village"}}, Rural},
		{"few landuse", []map[string]string{residential, residential}, Rural},
		{"dense landuse", []map[string]string{residential, residential, {"landuse": "retail"},
			{"landuse": "industrial"}, {"landuse": "commercial"}}, Urban},
	}
	for _, tc := range cases {
		if got := classifyTags(tc.elements); got != tc.want {
			t.Fatalf("%s: classifyTags() = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestBuildQuery(t *testing.T) {
	q := buildQuery(46.5, 7.25, 3000, 15*time.Second)
	for _, want := range []string{"[out:json][timeout:15]", "(around:3000,46.500000,7.250000)", `"natural"="glacier"`, "out tags;"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q:\n%s", want, q)
		}
	}
}

func TestClassifyQueryFailureFallsBack(t *testing.T) {
	c := &OverpassClassifier{
		query:   func(string) (overpass.Result, error) { return overpass.Result{}, errors.New("503") },
		timeout: time.Second,
		radiusM: 100,
	}
	area, err := c.Classify(context.Background(), 10, 10)
	if err == nil || area != Rural {
		t.Fatalf("Classify() = %s, %v; want rural with error", area, err)
	}
	if got := Lookup(context.Background(), c, 10, 10); got != Rural {
		t.Fatalf("Lookup() = %s, want rural", got)
	}
}

func TestClassifyEmptyResult(t *testing.T) {
	var seen string
	c := &OverpassClassifier{
		query: func(q string) (overpass.Result, error) {
			seen = q
			return overpass.Result{}, nil
		},
		timeout: time.Second,
		radiusM: 250,
	}
	area, err := c.Classify(context.Background(), -33.9, 18.4)
	if err != nil || area != Rural {
		t.Fatalf("Classify() = %s, %v", area, err)
	}
	if !strings.Contains(seen, "around:250,") {
		t.Fatalf("radius not used in query: %s", seen)
	}
}

func TestClassifyRejectsBadCoordinates(t *testing.T) {
	called := false
	c := &OverpassClassifier{
		query: func(string) (overpass.Result, error) {
			called = true
			return overpass.Result{}, nil
		},
		timeout: time.Second,
	}
	if _, err := c.Classify(context.Background(), 91, 0); err == nil {
		t.Fatal("expected error for latitude 91")
	}
	if called {
		t.Fatal("query sent for an invalid coordinate")
	}
}

func TestClassifyHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	c := &OverpassClassifier{
		query: func(string) (overpass.Result, error) {
			<-block
			return overpass.Result{}, nil
		},
		timeout: time.Minute,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Classify(ctx, 0, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("Classify() error = %v, want context.Canceled", err)
	}
}

type staticClassifier AreaType

func (s staticClassifier) Classify(context.Context, float64, float64) (AreaType, error) {
	return AreaType(s), nil
}

func TestLookup(t *testing.T) {
	if got := Lookup(context.Background(), nil, 0, 0); got != Rural {
		t.Fatalf("Lookup(nil) = %s", got)
	}
	if got := Lookup(context.Background(), staticClassifier(Urban), 0, 0); got != Urban {
		t.Fatalf("Lookup() = %s", got)
	}
}

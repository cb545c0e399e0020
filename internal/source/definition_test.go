package source

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseSourceOrder(t *testing.T) {
	got := ParseSourceOrder(" celestrak, ivan,,  n2yo ,")
	want := []string{"celestrak", "ivan", "n2yo"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseSourceOrder = %v, want %v", got, want)
	}
	if got := ParseSourceOrder(""); len(got) != 0 {
		t.Fatalf("ParseSourceOrder(\"\") = %v, want empty", got)
	}
}

func TestBuildClientsDropsUnknownAndDuplicates(t *testing.T) {
	reg := NewRegistry(BuiltinDefinitions(Credentials{})...)
	clients := reg.BuildClients([]string{"ivan", "bogus", "celestrak", "ivan"}, &scriptedTransport{})

	var names []string
	for _, c := range clients {
		names = append(names, c.Name())
	}
	if want := []string{"ivan", "celestrak"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("clients = %v, want %v", names, want)
	}
}

func TestLoadDefinitionsOverridesBuiltin(t *testing.T) {
	doc := `
sources:
  - name: celestrak
    rate_limit: 3s
  - name: mirror
    url: https://mirror.example/tle/{id}
    attribution: mirror.example
    headers:
      X-Token: abc
`
	defs, err := LoadDefinitions(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	reg := NewRegistry(BuiltinDefinitions(Credentials{})...)
	for _, d := range defs {
		reg.Register(d)
	}

	cel, ok := reg.Lookup("celestrak")
	if !ok || cel.RateLimit != 3*time.Second {
		t.Fatalf("celestrak = %+v", cel)
	}
	if !strings.Contains(cel.URL, "celestrak.org") {
		t.Fatalf("override lost URL: %q", cel.URL)
	}
	mirror, ok := reg.Lookup("mirror")
	if !ok || mirror.Format != FormatText || mirror.Headers["X-Token"] != "abc" {
		t.Fatalf("mirror = %+v", mirror)
	}
	if got := mirror.BuildURL("25544"); got != "https://mirror.example/tle/25544" {
		t.Fatalf("BuildURL = %q", got)
	}
}

func TestLoadDefinitionsRejectsInvalid(t *testing.T) {
	for _, doc := range []string{
		"sources:\n  - url: https://x\n",
		"sources:\n  - name: x\n    format: xml\n",
		"sources:\n  - name: x\n    unknown_key: 1\n",
	} {
		if _, err := LoadDefinitions(strings.NewReader(doc)); err == nil {
			t.Fatalf("LoadDefinitions(%q) succeeded, want error", doc)
		}
	}
	if defs, err := LoadDefinitions(strings.NewReader("")); err != nil || defs != nil {
		t.Fatalf("empty document = %v, %v", defs, err)
	}
}

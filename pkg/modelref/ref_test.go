package modelref

import "testing"

func TestParse(t *testing.T) {
	const defaultRegistry = "registry.ollama.ai"
	cases := []struct {
		name string
		in   string
		want Ref
	}{
		{
			"bare name",
			"llama3",
			Ref{Registry: defaultRegistry, Namespace: "library", Name: "llama3", Tag: "latest"},
		},
		{
			"bare name with tag",
			"llama3:8b",
			Ref{Registry: defaultRegistry, Namespace: "library", Name: "llama3", Tag: "8b"},
		},
		{
			"namespace/name",
			"myorg/llama3",
			Ref{Registry: defaultRegistry, Namespace: "myorg", Name: "llama3", Tag: "latest"},
		},
		{
			"namespace/name:tag",
			"myorg/llama3:instruct",
			Ref{Registry: defaultRegistry, Namespace: "myorg", Name: "llama3", Tag: "instruct"},
		},
		{
			"full registry/namespace/name:tag",
			"registry.example.com/myorg/llama3:instruct",
			Ref{Registry: "registry.example.com", Namespace: "myorg", Name: "llama3", Tag: "instruct"},
		},
		{
			"registry with port, no tag",
			"localhost:5000/myorg/llama3",
			Ref{Registry: "localhost:5000", Namespace: "myorg", Name: "llama3", Tag: "latest"},
		},
		{
			"empty tag after colon falls back to latest",
			"llama3:",
			Ref{Registry: defaultRegistry, Namespace: "library", Name: "llama3", Tag: "latest"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Parse(c.in, defaultRegistry)
			if got != c.want {
				t.Errorf("Parse(%q) = %+v, want %+v", c.in, got, c.want)
			}
		})
	}
}

func TestRefString(t *testing.T) {
	r := Ref{Registry: "registry.ollama.ai", Namespace: "library", Name: "llama3", Tag: "8b"}
	want := "registry.ollama.ai/library/llama3:8b"
	if got := r.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRefShortName(t *testing.T) {
	r := Ref{Registry: "registry.ollama.ai", Namespace: "library", Name: "llama3", Tag: "8b"}
	want := "library/llama3"
	if got := r.ShortName(); got != want {
		t.Errorf("ShortName() = %q, want %q", got, want)
	}
}

// localhost:5000/myorg/llama3 has a registry port that looks like a
// tag separator; Parse must not mistake it for one since a '/' follows.
func TestParseDoesNotSplitRegistryPortAsTag(t *testing.T) {
	got := Parse("localhost:5000/myorg/llama3:v2", "registry.ollama.ai")
	want := Ref{Registry: "localhost:5000", Namespace: "myorg", Name: "llama3", Tag: "v2"}
	if got != want {
		t.Errorf("Parse() = %+v, want %+v", got, want)
	}
}

package modelstore

import "testing"

func TestParseModelfileBasic(t *testing.T) {
	text := `
FROM llama3:8b
SYSTEM You are a terse assistant.
PARAMETER temperature 0.5
PARAMETER top_k 20
`
	mf, err := parseModelfile(text)
	if err != nil {
		t.Fatalf("parseModelfile: %v", err)
	}
	if mf.from != "llama3:8b" {
		t.Errorf("from = %q, want %q", mf.from, "llama3:8b")
	}
	if mf.system != "You are a terse assistant." {
		t.Errorf("system = %q, want %q", mf.system, "You are a terse assistant.")
	}
	if mf.params["temperature"] != "0.5" || mf.params["top_k"] != "20" {
		t.Errorf("params = %+v, want temperature=0.5 top_k=20", mf.params)
	}
}

func TestParseModelfileRequiresFrom(t *testing.T) {
	_, err := parseModelfile("SYSTEM hello\n")
	if err == nil {
		t.Fatalf("expected an error when FROM is missing")
	}
}

func TestParseModelfileIgnoresCommentsAndBlankLines(t *testing.T) {
	text := "# a comment\n\nFROM llama3\n\n# another comment\n"
	mf, err := parseModelfile(text)
	if err != nil {
		t.Fatalf("parseModelfile: %v", err)
	}
	if mf.from != "llama3" {
		t.Errorf("from = %q, want %q", mf.from, "llama3")
	}
}

func TestParseModelfileDirectivesAreCaseInsensitive(t *testing.T) {
	mf, err := parseModelfile("from llama3\ntemplate {{ .Prompt }}\n")
	if err != nil {
		t.Fatalf("parseModelfile: %v", err)
	}
	if mf.from != "llama3" || mf.template != "{{ .Prompt }}" {
		t.Errorf("lowercase directives were not recognized, got %+v", mf)
	}
}

func TestParseModelfileParameterRequiresValue(t *testing.T) {
	_, err := parseModelfile("FROM llama3\nPARAMETER temperature\n")
	if err == nil {
		t.Fatalf("PARAMETER with no value should error")
	}
}

func TestParseModelfileAdapterParsedButUnused(t *testing.T) {
	mf, err := parseModelfile("FROM llama3\nADAPTER /path/to/lora\n")
	if err != nil {
		t.Fatalf("parseModelfile: %v", err)
	}
	if mf.adapter != "/path/to/lora" {
		t.Errorf("adapter = %q, want %q", mf.adapter, "/path/to/lora")
	}
}

func TestParseModelfileUnknownDirectiveAccumulatesAsParam(t *testing.T) {
	mf, err := parseModelfile("FROM llama3\nMESSAGE hello there\n")
	if err != nil {
		t.Fatalf("parseModelfile: %v", err)
	}
	if mf.params["MESSAGE"] != "hello there" {
		t.Errorf("unknown directive should accumulate into params, got %+v", mf.params)
	}
}

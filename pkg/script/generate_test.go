package script

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestGenerateEmitsScript(t *testing.T) {
	src := `
comment("reorder lounges")
for i, id in enumerate(channels):
    emit("set", "channel", id, position=i)
emit("rename", "channel", channels[0], "Big Lounge")
emit("set", "channel", channels[1], nsfw=True, topic="")
`
	vars := map[string]interface{}{
		"channels": []string{"111111111111111111", "222222222222222222"},
	}

	out, err := NewGenerator(time.Second).Generate(context.Background(), "reorder.star", src, vars)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	want := strings.Join([]string{
		"# reorder lounges",
		"set channel 111111111111111111 position=0",
		"set channel 222222222222222222 position=1",
		`rename channel 111111111111111111 "Big Lounge"`,
		`set channel 222222222222222222 nsfw=true topic=""`,
	}, "\n") + "\n"

	if out != want {
		t.Errorf("Generate() =\n%s\nwant\n%s", out, want)
	}
}

func TestGeneratedScriptRoundTripsThroughParser(t *testing.T) {
	src := `emit("set", "channel", "111111111111111111", name="it's \"quoted\"" if False else "it's fine", topic="a b")`

	out, err := NewGenerator(time.Second).Generate(context.Background(), "rt.star", src, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	res := Parse(out, testTable(t), Options{})
	if !res.OK() {
		t.Fatalf("generated script did not parse: %v", res.Errors)
	}
	args := res.Actions[0].Arguments
	if args["name"] != "it's fine" || args["topic"] != "a b" {
		t.Errorf("arguments = %v", args)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "too few arguments", src: `emit("set")`},
		{name: "unsupported value", src: `emit("set", "channel", [1, 2])`},
		{name: "multi-line value", src: `emit("set", "channel", "a\nb")`},
		{name: "syntax error", src: `emit(`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGenerator(time.Second).Generate(context.Background(), "bad.star", tt.src, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	src := `
def spin():
    n = 0
    for i in range(100000000):
        n += i
    return n
spin()
`
	_, err := NewGenerator(50*time.Millisecond).Generate(context.Background(), "slow.star", src, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "", want: `""`},
		{in: "two words", want: `"two words"`},
		{in: `say "hi"`, want: `'say "hi"'`},
		{in: "it's", want: `"it's"`},
	}
	for _, tt := range tests {
		got, err := Quote(tt.in)
		if err != nil {
			t.Fatalf("Quote(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if toks := Tokenize(got); len(toks) != 1 || toks[0] != tt.in {
			t.Errorf("Tokenize(%q) = %q, want single token %q", got, toks, tt.in)
		}
	}

	if _, err := Quote(`both ' and "`); err == nil {
		t.Error("expected error for value with both quote characters")
	}
}

package varref

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Reference
	}{
		{
			name: "single token",
			text: "prefix <<abc-123.outputs.foo>> suffix",
			want: []Reference{{Identifier: "abc-123", IOType: "outputs", FieldName: "foo"}},
		},
		{
			name: "no tokens",
			text: "no tokens",
			want: nil,
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
		{
			name: "inputs and duplicates kept in order",
			text: "<<n1.inputs.a>><<n2.outputs.b c>> and <<n1.inputs.a>>",
			want: []Reference{
				{Identifier: "n1", IOType: "inputs", FieldName: "a"},
				{Identifier: "n2", IOType: "outputs", FieldName: "b c"},
				{Identifier: "n1", IOType: "inputs", FieldName: "a"},
			},
		},
		{
			name: "malformed tokens ignored",
			text: "<<n1.params.a>> <<.outputs.x>> <<n1.outputs.>> <<n1 outputs x>>",
			want: nil,
		},
		{
			name: "broken terminator then valid",
			text: "<<n1.outputs.a> <<n2.outputs.b>>",
			want: []Reference{{Identifier: "n2", IOType: "outputs", FieldName: "b"}},
		},
		{
			name: "uuid identifier",
			text: "<<0f8fad5b-d9cb-469f-a165-70867728950e.outputs.text>>",
			want: []Reference{{Identifier: "0f8fad5b-d9cb-469f-a165-70867728950e", IOType: "outputs", FieldName: "text"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.text, got, tt.want)
			}
		})
	}
}

func TestReference_TokenRoundTrip(t *testing.T) {
	refs := []Reference{
		{Identifier: "abc-123", IOType: Outputs, FieldName: "foo"},
		{Identifier: "x_1", IOType: Inputs, FieldName: "field.with.dots"},
	}
	for _, ref := range refs {
		got := Parse(ref.Token())
		if len(got) != 1 || got[0] != ref {
			t.Errorf("Parse(%q) = %#v, want [%#v]", ref.Token(), got, ref)
		}
	}
}

func TestParseToken(t *testing.T) {
	ref, ok := ParseToken("  <<n1.outputs.text>> ")
	if !ok || ref.Identifier != "n1" || ref.FieldName != "text" {
		t.Errorf("ParseToken = %#v, %v", ref, ok)
	}
	for _, text := range []string{"", "plain", "a <<n1.outputs.text>>", "<<n1.outputs.a>><<n2.outputs.b>>"} {
		if _, ok := ParseToken(text); ok {
			t.Errorf("ParseToken(%q) ok = true, want false", text)
		}
	}
}

func TestToken(t *testing.T) {
	if got := Token("n1", "text"); got != "<<n1.outputs.text>>" {
		t.Errorf("Token = %q", got)
	}
}

func TestContainsToken(t *testing.T) {
	if !ContainsToken("x <<a.outputs.b>>") {
		t.Error("ContainsToken = false, want true")
	}
	if ContainsToken("<<a.outputs>>") {
		t.Error("ContainsToken = true, want false")
	}
}

func TestDedupe(t *testing.T) {
	refs := Parse("<<a.outputs.x>> <<a.inputs.x>> <<b.outputs.x>> <<a.outputs.y>>")
	got := Dedupe(refs)
	want := []Reference{
		{Identifier: "a", IOType: "outputs", FieldName: "x"},
		{Identifier: "b", IOType: "outputs", FieldName: "x"},
		{Identifier: "a", IOType: "outputs", FieldName: "y"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dedupe = %#v, want %#v", got, want)
	}
	if Dedupe(nil) != nil {
		t.Error("Dedupe(nil) != nil")
	}
}

func TestReplace(t *testing.T) {
	got := Replace("Hi <<a.outputs.name>>, see <<b.outputs.url>>", func(r Reference) string {
		return "{" + r.Identifier + ":" + r.FieldName + "}"
	})
	if want := "Hi {a:name}, see {b:url}"; got != want {
		t.Errorf("Replace = %q, want %q", got, want)
	}
	if got := Replace("plain", func(Reference) string { return "x" }); got != "plain" {
		t.Errorf("Replace(plain) = %q", got)
	}
}

func TestParseAll(t *testing.T) {
	got := ParseAll("<<a.outputs.x>>", "none", "<<b.outputs.y>>")
	if len(got) != 2 || got[1].Identifier != "b" {
		t.Errorf("ParseAll = %#v", got)
	}
}

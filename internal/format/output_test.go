package format

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type sample struct {
	ID        string    `json:"id"`
	ParentID  *string   `json:"parentId"`
	Done      bool      `json:"isCompleted"`
	CreatedAt time.Time `json:"createdAt"`
}

func TestWrite_JSONDefault(t *testing.T) {
	var buf bytes.Buffer
	v := sample{ID: "itm-1", CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	if err := Write(&buf, v, "", false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := `{"id":"itm-1","parentId":null,"isCompleted":false,"createdAt":"2025-01-02T03:04:05Z"}` + "\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected json:\n got %q\nwant %q", got, want)
	}
}

func TestWrite_YAMLUsesJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	parent := "fld-1"
	if err := Write(&buf, []sample{{ID: "itm-1", ParentID: &parent, Done: true}}, "yaml", false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "- createdAt: ") {
		t.Fatalf("expected a sorted yaml sequence, got:\n%s", out)
	}
	for _, want := range []string{"  id: itm-1\n", "  parentId: fld-1\n", "  isCompleted: true\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in yaml output:\n%s", want, out)
		}
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, 1, "edn", false); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

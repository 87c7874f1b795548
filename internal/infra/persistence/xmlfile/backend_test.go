package xmlfile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"worktally/pkg/domain"
)

func sampleGraph() domain.Graph {
	g := domain.NewGraph()
	g.NextOID = 9
	g.Roots[domain.RelUsers] = []domain.OID{1}
	g.Roots[domain.RelPublicTasks] = []domain.OID{5}
	g.Records[1] = domain.Record{OID: 1, Kind: domain.KindUser,
		Properties:   map[string]string{"displayName": "Ann <admin>", "description": "line one\nline two", "enabled": "true"},
		Aggregations: map[domain.Relation][]domain.OID{domain.RelAccounts: {2}}}
	g.Records[2] = domain.Record{OID: 2, Kind: domain.KindAccount,
		Properties:   map[string]string{"login": "ann", "emailAddresses": ""},
		Aggregations: map[domain.Relation][]domain.OID{domain.RelWorks: {8}},
		Associations: map[domain.Relation][]domain.OID{domain.RelQuickPicks: {5, 7}}}
	g.Records[5] = domain.Record{OID: 5, Kind: domain.KindPublicTask,
		Properties:   map[string]string{"displayName": "Parent"},
		Aggregations: map[domain.Relation][]domain.OID{domain.RelChildren: {7, 6}},
		Associations: map[domain.Relation][]domain.OID{domain.RelWorks: {8}}}
	g.Records[6] = domain.Record{OID: 6, Kind: domain.KindPublicTask, Properties: map[string]string{"displayName": "B"}}
	g.Records[7] = domain.Record{OID: 7, Kind: domain.KindPublicTask, Properties: map[string]string{"displayName": "A"}}
	g.Records[8] = domain.Record{OID: 8, Kind: domain.KindWork,
		Properties:   map[string]string{"comment": "did \"things\" & stuff"},
		Associations: map[domain.Relation][]domain.OID{domain.RelActivity: {5}}}
	return g
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleGraph()
	var buf bytes.Buffer
	if err := Encode(&buf, want); err != nil {
		t.Fatalf("encode: %v", err)
	}
	doc := buf.String()
	for _, fragment := range []string{`<worktally version="1" nextOid="9">`, `<quickPicks refs="5 7">`, `<user OID="1"`} {
		if !strings.Contains(doc, fragment) {
			t.Fatalf("expected %q in document:\n%s", fragment, doc)
		}
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, want)
	}
	if kids := got.Records[5].Aggregations[domain.RelChildren]; kids[0] != 7 || kids[1] != 6 {
		t.Fatalf("aggregation order lost: %v", kids)
	}
}

func TestDecodeRejectsForeignDocuments(t *testing.T) {
	cases := map[string]string{
		"root":    `<other version="1"/>`,
		"version": `<worktally version="2"/>`,
		"oid":     `<worktally version="1"><users><user displayName="x"/></users></worktally>`,
		"refs":    `<worktally version="1"><users><user OID="1"><x refs="a"/></user></users></worktally>`,
		"syntax":  `<worktally`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected error for %s", doc)
			}
		})
	}
}

func TestBackendSaveIsAtomicAndReloads(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := Open(filepath.Join(dir, "ws", "store.xml"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	empty, err := b.Load(ctx)
	if err != nil || !empty.Empty() {
		t.Fatalf("missing file should load empty, got %v %v", empty, err)
	}
	want := sampleGraph()
	if err := b.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(b.Path()))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "store.xml" {
		t.Fatalf("expected only the target file, got %v", entries)
	}
	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("reload mismatch")
	}
	if !strings.HasPrefix(b.Location(), "xml:") {
		t.Fatalf("unexpected location %q", b.Location())
	}
}

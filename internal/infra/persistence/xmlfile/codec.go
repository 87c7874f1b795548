package xmlfile

import (
	"encoding/xml"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"worktally/pkg/domain"
)

const (
	rootElement   = "worktally"
	formatVersion = "1"
	attrVersion   = "version"
	attrNextOID   = "nextOid"
	attrOID       = "OID"
	attrRefs      = "refs"
)

// node is a generic element. Entity elements are named after their kind,
// container elements after a relation.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []node     `xml:",any"`
}

func (n *node) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Encode writes g as an indented document.
func Encode(w io.Writer, g domain.Graph) error {
	root := node{
		XMLName: xml.Name{Local: rootElement},
		Attrs: []xml.Attr{
			{Name: xml.Name{Local: attrVersion}, Value: formatVersion},
			{Name: xml.Name{Local: attrNextOID}, Value: g.NextOID.String()},
		},
	}
	for _, rel := range sortedRelations(g.Roots) {
		container, err := encodeContainer(g, rel, g.Roots[rel])
		if err != nil {
			return err
		}
		root.Nodes = append(root.Nodes, container)
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	return enc.Close()
}

func encodeContainer(g domain.Graph, rel domain.Relation, oids []domain.OID) (node, error) {
	container := node{XMLName: xml.Name{Local: string(rel)}}
	for _, oid := range oids {
		child, err := encodeRecord(g, oid)
		if err != nil {
			return node{}, err
		}
		container.Nodes = append(container.Nodes, child)
	}
	return container, nil
}

func encodeRecord(g domain.Graph, oid domain.OID) (node, error) {
	rec, ok := g.Records[oid]
	if !ok {
		return node{}, fmt.Errorf("encode xml: oid %s is listed but has no record", oid)
	}
	n := node{
		XMLName: xml.Name{Local: string(rec.Kind)},
		Attrs:   []xml.Attr{{Name: xml.Name{Local: attrOID}, Value: oid.String()}},
	}
	for _, key := range slices.Sorted(maps.Keys(rec.Properties)) {
		n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: key}, Value: rec.Properties[key]})
	}
	for _, rel := range sortedRelations(rec.Aggregations) {
		container, err := encodeContainer(g, rel, rec.Aggregations[rel])
		if err != nil {
			return node{}, err
		}
		n.Nodes = append(n.Nodes, container)
	}
	for _, rel := range sortedRelations(rec.Associations) {
		refs := make([]string, 0, len(rec.Associations[rel]))
		for _, m := range rec.Associations[rel] {
			refs = append(refs, m.String())
		}
		n.Nodes = append(n.Nodes, node{
			XMLName: xml.Name{Local: string(rel)},
			Attrs:   []xml.Attr{{Name: xml.Name{Local: attrRefs}, Value: strings.Join(refs, " ")}},
		})
	}
	return n, nil
}

// Decode parses a document written by Encode. Structural problems are
// reported here; semantic checks are left to the store loader.
func Decode(r io.Reader) (domain.Graph, error) {
	var root node
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return domain.Graph{}, fmt.Errorf("decode xml: %w", err)
	}
	if root.XMLName.Local != rootElement {
		return domain.Graph{}, fmt.Errorf("decode xml: root element %q, want %q", root.XMLName.Local, rootElement)
	}
	if v, _ := root.attr(attrVersion); v != formatVersion {
		return domain.Graph{}, fmt.Errorf("decode xml: unsupported version %q", v)
	}
	g := domain.NewGraph()
	if raw, ok := root.attr(attrNextOID); ok {
		next, err := domain.ParseOID(raw)
		if err != nil {
			return domain.Graph{}, fmt.Errorf("decode xml: %s: %w", attrNextOID, err)
		}
		g.NextOID = next
	}
	for i := range root.Nodes {
		container := &root.Nodes[i]
		rel := domain.Relation(container.XMLName.Local)
		oids, err := decodeContainer(&g, container)
		if err != nil {
			return domain.Graph{}, err
		}
		g.Roots[rel] = append(g.Roots[rel], oids...)
	}
	return g, nil
}

func decodeContainer(g *domain.Graph, container *node) ([]domain.OID, error) {
	oids := make([]domain.OID, 0, len(container.Nodes))
	for i := range container.Nodes {
		oid, err := decodeRecord(g, &container.Nodes[i])
		if err != nil {
			return nil, err
		}
		oids = append(oids, oid)
	}
	return oids, nil
}

func decodeRecord(g *domain.Graph, n *node) (domain.OID, error) {
	raw, ok := n.attr(attrOID)
	if !ok {
		return 0, fmt.Errorf("decode xml: <%s> has no %s attribute", n.XMLName.Local, attrOID)
	}
	oid, err := domain.ParseOID(raw)
	if err != nil {
		return 0, fmt.Errorf("decode xml: <%s>: %w", n.XMLName.Local, err)
	}
	rec := domain.Record{OID: oid, Kind: domain.Kind(n.XMLName.Local), Properties: make(map[string]string, len(n.Attrs))}
	for _, a := range n.Attrs {
		if a.Name.Local != attrOID {
			rec.Properties[a.Name.Local] = a.Value
		}
	}
	for i := range n.Nodes {
		child := &n.Nodes[i]
		rel := domain.Relation(child.XMLName.Local)
		if refs, ok := child.attr(attrRefs); ok {
			targets, err := parseRefs(refs)
			if err != nil {
				return 0, fmt.Errorf("decode xml: oid %s %s: %w", oid, rel, err)
			}
			if rec.Associations == nil {
				rec.Associations = make(map[domain.Relation][]domain.OID)
			}
			rec.Associations[rel] = append(rec.Associations[rel], targets...)
			slices.Sort(rec.Associations[rel])
			continue
		}
		children, err := decodeContainer(g, child)
		if err != nil {
			return 0, err
		}
		if len(children) == 0 {
			continue
		}
		if rec.Aggregations == nil {
			rec.Aggregations = make(map[domain.Relation][]domain.OID)
		}
		rec.Aggregations[rel] = append(rec.Aggregations[rel], children...)
	}
	g.Records[oid] = rec
	return oid, nil
}

func parseRefs(raw string) ([]domain.OID, error) {
	fields := strings.Fields(raw)
	out := make([]domain.OID, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.OID(v))
	}
	return out, nil
}

func sortedRelations(m map[domain.Relation][]domain.OID) []domain.Relation {
	out := make([]domain.Relation, 0, len(m))
	for rel, list := range m {
		if len(list) > 0 {
			out = append(out, rel)
		}
	}
	slices.Sort(out)
	return out
}

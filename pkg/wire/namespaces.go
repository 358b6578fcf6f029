// ABOUTME: Namespace prefix tables for qualified names on the wire
// ABOUTME: Tables nest lexically; the nearest definition of a prefix wins

package wire

import (
	"sort"
	"strconv"
	"strings"

	"github.com/nainya/recordindex/pkg/schema"
)

// NamespacesKey is the member holding a namespace context
const NamespacesKey = "namespaces"

// Namespaces maps prefixes to namespaces, falling back to a parent table
type Namespaces struct {
	parent      *Namespaces
	byPrefix    map[string]string
	byNamespace map[string]string
	generated   int
}

// NewNamespaces returns an empty table with an optional parent
func NewNamespaces(parent *Namespaces) *Namespaces {
	return &Namespaces{
		parent:      parent,
		byPrefix:    make(map[string]string),
		byNamespace: make(map[string]string),
	}
}

// Define binds prefix to namespace in this table
func (n *Namespaces) Define(prefix, namespace string) {
	n.byPrefix[prefix] = namespace
	n.byNamespace[namespace] = prefix
}

// Namespace resolves prefix, consulting parents when this table lacks it
func (n *Namespaces) Namespace(prefix string) (string, bool) {
	for t := n; t != nil; t = t.parent {
		if ns, ok := t.byPrefix[prefix]; ok {
			return ns, true
		}
	}
	return "", false
}

// PrefixFor returns the prefix bound to namespace in this table, defining ns1, ns2, ... on first use
func (n *Namespaces) PrefixFor(namespace string) string {
	if p, ok := n.byNamespace[namespace]; ok {
		return p
	}
	for {
		n.generated++
		p := "ns" + strconv.Itoa(n.generated)
		if _, taken := n.byPrefix[p]; !taken {
			n.Define(p, namespace)
			return p
		}
	}
}

// Len is the number of bindings in this table, excluding parents
func (n *Namespaces) Len() int {
	return len(n.byPrefix)
}

// Node renders this table as a namespace-to-prefix object
func (n *Namespaces) Node() map[string]any {
	out := make(map[string]any, len(n.byNamespace))
	for ns, p := range n.byNamespace {
		out[ns] = p
	}
	return out
}

// Prefixes lists the prefixes bound in this table in sorted order
func (n *Namespaces) Prefixes() []string {
	out := make([]string, 0, len(n.byPrefix))
	for p := range n.byPrefix {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// NamespacesFromContext reads the namespaces member of obj into a table nested under ambient.
// Without a namespaces member the result is an empty table over ambient.
func NamespacesFromContext(obj map[string]any, ambient *Namespaces) (*Namespaces, error) {
	table := NewNamespaces(ambient)

	ctxNode, ok, err := Object(obj, NamespacesKey, NamespacesKey)
	if err != nil || !ok {
		return table, err
	}

	for namespace, v := range ctxNode {
		prefix, isStr := v.(string)
		if !isStr {
			return nil, KindError(Path(NamespacesKey, namespace), v, KindString)
		}
		if prefix == "" || strings.ContainsAny(prefix, ":{}") {
			return nil, Errorf(Path(NamespacesKey, namespace), "invalid prefix %q", prefix)
		}
		table.Define(prefix, namespace)
	}
	return table, nil
}

// ParseQName reads prefix:local or {namespace}local
func ParseQName(s string, ns *Namespaces, path string) (schema.QName, error) {
	if strings.HasPrefix(s, "{") {
		q, err := schema.ParseQName(s)
		if err != nil {
			return schema.QName{}, Errorf(path, "%v", err)
		}
		return q, nil
	}

	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return schema.QName{}, Errorf(path, "qualified name %q is neither prefix:name nor {namespace}name", s)
	}
	prefix := s[:i]
	if ns == nil {
		return schema.QName{}, Errorf(path, "undefined namespace prefix %q", prefix)
	}
	namespace, ok := ns.Namespace(prefix)
	if !ok {
		return schema.QName{}, Errorf(path, "undefined namespace prefix %q", prefix)
	}
	return schema.NewQName(namespace, s[i+1:]), nil
}

// FormatQName writes q as prefix:local when ns is given, else as {namespace}local
func FormatQName(q schema.QName, ns *Namespaces) string {
	if ns == nil {
		return q.String()
	}
	return ns.PrefixFor(q.Namespace) + ":" + q.Name
}

// Package modelref parses the model reference grammar from spec.md §3:
// "[registry/][namespace/]name[:tag]".
package modelref

import "strings"

// Ref is a fully resolved model reference.
type Ref struct {
	Registry  string
	Namespace string
	Name      string
	Tag       string
}

// String renders the canonical "registry/namespace/name:tag" form.
func (r Ref) String() string {
	return r.Registry + "/" + r.Namespace + "/" + r.Name + ":" + r.Tag
}

// ShortName renders "namespace/name", without the registry or the tag.
func (r Ref) ShortName() string {
	return r.Namespace + "/" + r.Name
}

// Parse applies the resolution rules from spec.md §3 in order, none
// advancing past a '/': missing registry defaults to defaultRegistry,
// missing namespace defaults to "library", missing tag defaults to
// "latest". A colon inside a path segment is a tag separator only if
// nothing after it contains '/'.
func Parse(s, defaultRegistry string) Ref {
	name := s
	tag := "latest"

	// Split tag: find the last ':' such that nothing after it contains '/'.
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		if !strings.Contains(name[idx+1:], "/") {
			tag = name[idx+1:]
			name = name[:idx]
		}
	}

	parts := strings.Split(name, "/")

	var registry, namespace, model string
	switch len(parts) {
	case 1:
		registry = defaultRegistry
		namespace = "library"
		model = parts[0]
	case 2:
		registry = defaultRegistry
		namespace = parts[0]
		model = parts[1]
	default:
		registry = parts[0]
		namespace = parts[1]
		model = strings.Join(parts[2:], "/")
	}

	if tag == "" {
		tag = "latest"
	}

	return Ref{Registry: registry, Namespace: namespace, Name: model, Tag: tag}
}

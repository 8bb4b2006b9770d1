package lbltools

// Labeling interface configuration (XML) parsing.

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// ObjectTag is a data object referenced by a control tag, e.g. <Video name="video" value="$video"/>.
type ObjectTag struct {
	Type  string // The tag name, e.g. "Video".
	Value string // The task data key, without the leading "$".
}

// ControlTag is a tag that produces annotation results, e.g. <Labels> or <VideoRectangle>.
type ControlTag struct {
	Type       string                       // The tag name.
	ToName     []string                     // The names of the object tags it annotates.
	Inputs     []ObjectTag                  // The object tags resolved from ToName.
	Labels     []string                     // The values of nested tags, in document order.
	LabelAttrs map[string]map[string]string // All attributes of the nested tags, by value.
}

// LabelConfig maps control tag names to their definitions.
type LabelConfig map[string]ControlTag

// xmlNode is a generic element of the configuration document.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// walk calls fn for n and all of its descendants, depth first in document order.
func (n *xmlNode) walk(fn func(*xmlNode)) {
	fn(n)
	for i := range n.Nodes {
		n.Nodes[i].walk(fn)
	}
}

// ParseLabelConfig parses a labeling interface configuration.
//
// Every element with both a name and a toName attribute is a control tag. The labels of a control
// are the value attributes of all elements nested in it, except for filters.
func ParseLabelConfig(config string) (LabelConfig, error) {
	var root xmlNode
	if err := xml.Unmarshal([]byte(config), &root); err != nil {
		return nil, fmt.Errorf("failed to parse label config: %w", err)
	}

	// Collect the object tags first, since controls may precede the objects they reference.
	objects := make(map[string]ObjectTag)
	var controls []*xmlNode
	root.walk(func(n *xmlNode) {
		name := n.attr("name")
		if name == "" {
			return
		}
		if n.attr("toName") != "" {
			controls = append(controls, n)
			return
		}
		if v := strings.TrimSpace(n.attr("value")); strings.HasPrefix(v, "$") {
			objects[name] = ObjectTag{Type: n.XMLName.Local, Value: strings.TrimPrefix(v, "$")}
		}
	})

	cfg := make(LabelConfig, len(controls))
	for _, c := range controls {
		tag := ControlTag{
			Type:       c.XMLName.Local,
			ToName:     strings.Split(c.attr("toName"), ","),
			LabelAttrs: make(map[string]map[string]string),
		}
		for _, name := range tag.ToName {
			if obj, ok := objects[name]; ok {
				tag.Inputs = append(tag.Inputs, obj)
			}
		}
		for i := range c.Nodes {
			c.Nodes[i].walk(func(n *xmlNode) {
				v := n.attr("value")
				if v == "" || strings.EqualFold(n.XMLName.Local, "filter") {
					return
				}
				tag.Labels = append(tag.Labels, v)
				attrs := make(map[string]string, len(n.Attrs))
				for _, a := range n.Attrs {
					attrs[a.Name.Local] = a.Value
				}
				tag.LabelAttrs[v] = attrs
			})
		}
		cfg[c.attr("name")] = tag
	}

	return cfg, nil
}

// IsVideoObjectTracking reports whether the configuration contains a video rectangle control that
// annotates a video object.
func IsVideoObjectTracking(cfg LabelConfig) bool {
	for _, c := range cfg {
		if !strings.EqualFold(c.Type, VideoRectangle) {
			continue
		}
		for _, in := range c.Inputs {
			if in.Type == "Video" {
				return true
			}
		}
	}
	return false
}

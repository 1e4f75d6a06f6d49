package nodes

import (
	"strings"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
)

type httpLowerer struct{}

func (httpLowerer) Type() core.NodeType { return core.NodeTypeHTTP }

func (httpLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.HTTPData](n)
	method := strings.ToUpper(strings.TrimSpace(d.Method))
	if method == "" {
		method = "GET"
	}
	bodyType := d.Body.Type
	if bodyType == "" {
		bodyType = "none"
	}
	return &ir.HTTPNode{
		Header:  header(n),
		Method:  method,
		URL:     s.Template(d.URL),
		Headers: s.Params(d.Headers),
		Params:  s.Params(d.Params),
		Body: ir.HTTPBody{
			Type:    bodyType,
			Content: s.Template(d.Body.Content),
		},
		TimeoutSeconds: d.TimeoutSeconds,
	}
}

func (httpLowerer) Variables(core.Node) []core.Variable {
	return []core.Variable{
		{Name: "body", Type: core.VarString},
		{Name: "headers", Type: core.VarObject},
		{Name: "status_code", Type: core.VarNumber},
	}
}

func (httpLowerer) Context(n ir.Node) NodeContext {
	h, ok := n.(*ir.HTTPNode)
	if !ok {
		return NodeContext{}
	}
	texts := []string{h.URL.Text}
	texts = append(texts, paramTexts(h.Headers)...)
	texts = append(texts, paramTexts(h.Params)...)
	texts = append(texts, h.Body.Content.Text)
	return newContext(texts, nil)
}

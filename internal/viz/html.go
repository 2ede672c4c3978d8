package viz

import (
	"bytes"
	"fmt"
	"html/template"
)

// compiledTemplate is parsed at init time to fail fast on template errors.
var compiledTemplate *template.Template

func init() {
	compiledTemplate = template.Must(template.New("viz").Parse(htmlTemplate))
}

// HTMLOptions configures HTML generation.
type HTMLOptions struct {
	// Layout is "preset", "force", "circle", or "grid". Preset uses the
	// store's computed positions and falls back to force when any node lacks one.
	Layout string
}

// DefaultOptions returns default HTML generation options.
func DefaultOptions() HTMLOptions {
	return HTMLOptions{Layout: "preset"}
}

// ValidLayouts lists the supported layout names.
var ValidLayouts = []string{"preset", "force", "circle", "grid"}

// GenerateHTML generates a self-contained HTML page for the graph.
func GenerateHTML(g *GraphData, opts HTMLOptions) (string, error) {
	if g == nil {
		return "", fmt.Errorf("graph cannot be nil")
	}
	if err := validateLayout(opts.Layout); err != nil {
		return "", err
	}

	title := g.Title
	if title == "" {
		title = "Graph"
	}
	if g.IsEmpty() {
		return generateEmptyHTML(title)
	}

	graphJSON, err := g.ToCytoscapeJSON()
	if err != nil {
		return "", err
	}

	data := templateData{
		Title:     title,
		GraphJSON: template.JS(graphJSON),
		Layout:    layoutToCytoscape(opts.Layout, g.Positioned()),
	}

	var buf bytes.Buffer
	if err := compiledTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering graph page: %w", err)
	}
	return buf.String(), nil
}

func validateLayout(layout string) error {
	switch layout {
	case "", "preset", "force", "circle", "grid":
		return nil
	default:
		return fmt.Errorf("invalid layout %q: must be preset, force, circle, or grid", layout)
	}
}

type templateData struct {
	Title     string
	GraphJSON template.JS
	Layout    string
}

// layoutToCytoscape converts layout names to Cytoscape.js layout algorithm names.
func layoutToCytoscape(layout string, positioned bool) string {
	switch layout {
	case "circle", "grid":
		return layout
	case "force":
		return "cose"
	default:
		if positioned {
			return "preset"
		}
		return "cose"
	}
}

func generateEmptyHTML(title string) (string, error) {
	var buf bytes.Buffer
	if err := emptyTemplate.Execute(&buf, title); err != nil {
		return "", fmt.Errorf("rendering empty page: %w", err)
	}
	return buf.String(), nil
}

var emptyTemplate = template.Must(template.New("empty").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.}} - Empty</title>
<style>
  html, body { height: 100%; margin: 0; }
  body { display: grid; place-items: center; font: 14px system-ui, sans-serif; color: #555; background: #fafafa; }
  h2 { color: #222; margin: 0 0 .4em; }
  code { background: #eee; padding: 1px 5px; border-radius: 3px; }
</style>
</head>
<body>
<main>
  <h2>Nothing to show</h2>
  <p>Load the schema with <code>onto schema</code> or expand a node with <code>onto expand NAME</code>.</p>
</main>
</body>
</html>`))

// The page mirrors the explorer's selection model: clicking a node or edge
// opens the detail panel, clicking the background closes it.
const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="https://unpkg.com/cytoscape@3/dist/cytoscape.min.js"></script>
<style>
  html, body { height: 100%; margin: 0; }
  body { display: flex; font: 13px system-ui, sans-serif; color: #222; }
  #graph { flex: 1; background: #fff; }
  #details { width: 280px; padding: 12px 16px; border-left: 1px solid #ddd; background: #fafafa; overflow-y: auto; }
  #details[hidden] { display: none; }
  #details h3 { margin: 0 0 8px; font-size: 15px; word-break: break-word; }
  #details .kind { font-size: 11px; letter-spacing: .05em; text-transform: uppercase; color: #888; }
  #details dl { margin: 8px 0 0; }
  #details dt { font-weight: 600; margin-top: 6px; }
  #details dd { margin: 0; color: #555; word-break: break-word; }
</style>
</head>
<body>
<div id="graph"></div>
<aside id="details" hidden></aside>
<script>
(function () {
  var elements = {{.GraphJSON}};
  var panel = document.getElementById('details');

  var cy = cytoscape({
    container: document.getElementById('graph'),
    elements: elements,
    layout: { name: "{{.Layout}}", animate: false, fit: true, padding: 30 },
    style: [
      { selector: 'node', style: {
          'label': 'data(label)',
          'background-color': '#5B8DEF',
          'font-size': 10,
          'text-valign': 'bottom',
          'text-margin-y': 4,
          'width': 'mapData(degree, 0, 10, 24, 48)',
          'height': 'mapData(degree, 0, 10, 24, 48)' } },
      { selector: 'node[kind = "class"]', style: { 'shape': 'round-rectangle', 'background-color': '#E8923A' } },
      { selector: 'node[color]', style: { 'background-color': 'data(color)' } },
      { selector: 'edge', style: {
          'label': 'data(type)',
          'font-size': 8,
          'text-rotation': 'autorotate',
          'curve-style': 'bezier',
          'width': 1.5,
          'line-color': '#A0A8B0',
          'target-arrow-color': '#A0A8B0',
          'target-arrow-shape': 'triangle' } },
      { selector: ':selected', style: { 'overlay-color': '#D9534F', 'overlay-opacity': 0.2 } },
      { selector: '.faded', style: { 'opacity': 0.25 } }
    ]
  });

  function text(s) {
    var span = document.createElement('span');
    span.textContent = s == null ? '' : String(s);
    return span.innerHTML;
  }

  function row(name, value) {
    return '<dt>' + text(name) + '</dt><dd>' + text(value) + '</dd>';
  }

  function describeNode(d) {
    var out = '<div class="kind">' + text(d.kind || 'node') + '</div><h3>' + text(d.label) + '</h3><dl>';
    out += row('id', d.id) + row('connections', d.degree);
    Object.keys(d.properties || {}).sort().forEach(function (k) {
      var v = d.properties[k];
      out += row(k, Array.isArray(v) ? v.join(', ') : v);
    });
    return out + '</dl>';
  }

  function describeEdge(d) {
    return '<div class="kind">relationship</div><h3>' + text(d.type) + '</h3><dl>' +
      row('source', d.source) + row('target', d.target) + row('id', d.id) + '</dl>';
  }

  function select(ele) {
    var focus = ele.isNode() ? ele.closedNeighborhood() : ele.connectedNodes().add(ele);
    cy.elements().removeClass('faded');
    cy.elements().not(focus).addClass('faded');
    panel.innerHTML = ele.isNode() ? describeNode(ele.data()) : describeEdge(ele.data());
    panel.hidden = false;
    cy.resize();
  }

  function clear() {
    cy.elements().removeClass('faded');
    panel.hidden = true;
    cy.resize();
  }

  cy.on('tap', 'node, edge', function (evt) { select(evt.target); });
  cy.on('tap', function (evt) { if (evt.target === cy) clear(); });
})();
</script>
</body>
</html>`

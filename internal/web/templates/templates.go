// Package templates holds the HTML components of the web UI.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/bibcards/internal/core"
)

// ThemeLabels names every card theme for the theme picker.
var ThemeLabels = map[string]string{
	"theme-red":         "Red Orange",
	"theme-blue":        "Blue Purple",
	"theme-green":       "Green Teal",
	"theme-orange":      "Orange Pink",
	"theme-purple":      "Purple",
	"theme-transparent": "Transparent",
}

// SessionView is everything the session page shows.
type SessionView struct {
	ID            string
	Theme         string
	HasBackground bool
	Participants  []core.Participant
	Barcodes      map[string]core.BarcodeArtifact
	Progress      core.GenerationProgress
	Busy          bool
	Notifications []core.Notification
	ArchiveName   string
}

// writer collects the first write error so components can render in a
// straight line.
type writer struct {
	w   io.Writer
	err error
}

func (w *writer) raw(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

// text writes s HTML-escaped.
func (w *writer) text(s string) {
	w.raw("%s", templ.EscapeString(s))
}

// Layout wraps body in the page shell.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		w.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		w.raw(`<title>`)
		w.text(title)
		w.raw(`</title><style>%s</style></head><body><main>`, pageStyle)
		w.raw(`<header><h1>Marathon BIB Creator</h1>`)
		w.raw(`<p>Create race bibs with barcodes, themes and transparent backgrounds</p></header>`)
		if w.err != nil {
			return w.err
		}
		if err := body.Render(ctx, out); err != nil {
			return err
		}
		w.raw(`</main></body></html>`)
		return w.err
	})
}

// IndexPage is the landing page.
func IndexPage() templ.Component {
	return Layout("Marathon BIB Creator", templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw(`<section class="panel"><p>Upload a participant list `)
		w.raw(`(Event Name, Race Category, BIB Number, Participant Name, Date) `)
		w.raw(`to generate printable bib cards.</p>`)
		w.raw(`<form method="post" action="/session"><button type="submit">Start</button></form></section>`)
		return w.err
	}))
}

// SessionPage is the working page of one session.
func SessionPage(v SessionView) templ.Component {
	return Layout("Marathon BIB Creator", templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		api := "/api/session/" + v.ID

		w.raw(`<section class="panel" id="config" data-api="%s">`, templ.EscapeString(api))
		w.raw(`<h2>Configuration</h2><div class="grid">`)

		w.raw(`<form id="csv-form"><label>Upload CSV File<input type="file" name="file" accept=".csv"></label>`)
		w.raw(`<small>Format: Event Name, Race Category, BIB Number, Participant Name, Date</small></form>`)

		w.raw(`<form id="bg-form"><label>Background Image<input type="file" name="file" accept="image/*"></label>`)
		if v.HasBackground {
			w.raw(`<small>Background image applied</small>`)
		}
		w.raw(`</form>`)

		w.raw(`<label>Color Theme<select id="theme">`)
		for _, name := range core.Themes {
			selected := ""
			if name == v.Theme {
				selected = " selected"
			}
			w.raw(`<option value="%s"%s>`, templ.EscapeString(name), selected)
			w.text(ThemeLabels[name])
			w.raw(`</option>`)
		}
		w.raw(`</select></label>`)

		disabled := ""
		if len(v.Participants) == 0 || v.Busy {
			disabled = " disabled"
		}
		w.raw(`<div><button id="generate"%s>Generate BIB Cards</button>`, disabled)
		if n := len(v.Participants); n > 0 {
			w.raw(`<small>%d participants loaded</small>`, n)
		}
		w.raw(`</div></div></section>`)

		progressPanel(w, v)
		exportControls(w, v)
		notificationList(w, v.Notifications)
		cardPreviews(w, v)

		w.raw(`<script>%s</script>`, pageScript)
		return w.err
	}))
}

func progressPanel(w *writer, v SessionView) {
	hidden := " hidden"
	if v.Busy {
		hidden = ""
	}
	w.raw(`<section class="panel" id="progress"%s>`, hidden)
	w.raw(`<progress max="100" value="%d"></progress>`, v.Progress.Percent())
	w.raw(`<span id="progress-text">%d/%d %s</span></section>`, v.Progress.Current, v.Progress.Total, templ.EscapeString(stageVerb(v.Progress.Stage)))
}

func stageVerb(s core.Stage) string {
	switch s {
	case core.StageGenerating:
		return "generated"
	case core.StageExporting:
		return "exported"
	default:
		return "processed"
	}
}

func exportControls(w *writer, v SessionView) {
	if len(v.Participants) == 0 || len(v.Barcodes) == 0 {
		return
	}
	w.raw(`<section class="panel" id="export"><form id="export-form">`)
	w.raw(`<label><input type="checkbox" name="transparent"> Transparent background</label>`)
	w.raw(`<label><input type="checkbox" name="textOnly"> Text only (hide decorative holes)</label>`)
	w.raw(`<button type="submit">Download PNG</button></form>`)
	if v.ArchiveName != "" {
		w.raw(`<a href="/api/session/%s/archive" download>`, templ.EscapeString(v.ID))
		w.text(v.ArchiveName)
		w.raw(`</a>`)
	}
	w.raw(`</section>`)
}

func notificationList(w *writer, notes []core.Notification) {
	w.raw(`<ul id="toasts">`)
	for _, n := range notes {
		w.raw(`<li class="toast %s"><strong>`, templ.EscapeString(string(n.Variant)))
		w.text(n.Title)
		w.raw(`</strong> `)
		w.text(n.Message)
		w.raw(`</li>`)
	}
	w.raw(`</ul>`)
}

func cardPreviews(w *writer, v SessionView) {
	if len(v.Participants) == 0 {
		return
	}
	w.raw(`<section class="panel"><h2>Participants</h2><table><thead><tr>`)
	w.raw(`<th>BIB</th><th>Name</th><th>Event</th><th>Category</th><th>Date</th><th>Barcode</th></tr></thead><tbody>`)
	for _, p := range v.Participants {
		w.raw(`<tr><td>`)
		w.text(p.BibNumber)
		w.raw(`</td><td>`)
		w.text(p.ParticipantName)
		w.raw(`</td><td>`)
		w.text(p.EventName)
		w.raw(`</td><td>`)
		w.text(p.RaceCategory)
		w.raw(`</td><td>`)
		w.text(p.Date)
		w.raw(`</td><td>`)
		if a, ok := v.Barcodes[p.BibNumber]; ok {
			w.raw(`<img alt="barcode %s" src="%s">`, templ.EscapeString(p.BibNumber), templ.EscapeString(a.DataURL()))
		}
		w.raw(`</td></tr>`)
	}
	w.raw(`</tbody></table></section>`)
}

// ErrorAlert renders a user-facing error fragment.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw(`<div class="toast destructive" role="alert"><strong>`)
		w.text(message)
		w.raw(`</strong>`)
		if action != "" {
			w.raw(` `)
			w.text(action)
		}
		w.raw(` <code>%s</code></div>`, templ.EscapeString(code))
		return w.err
	})
}

var pageStyle = strings.Join([]string{
	`body{margin:0;font-family:system-ui,sans-serif;background:linear-gradient(135deg,#667eea,#764ba2);min-height:100vh}`,
	`main{max-width:1200px;margin:0 auto;padding:2rem}`,
	`header{text-align:center;color:#fff}`,
	`.panel{background:#fffffff2;border-radius:12px;padding:1.5rem;margin:1.5rem 0}`,
	`.grid{display:grid;grid-template-columns:repeat(auto-fit,minmax(220px,1fr));gap:1.5rem}`,
	`label{display:flex;flex-direction:column;gap:.5rem;font-weight:600}`,
	`progress{width:100%}`,
	`table{width:100%;border-collapse:collapse}td,th{padding:.4rem;border-bottom:1px solid #ddd;text-align:left}`,
	`td img{height:40px}`,
	`#toasts{list-style:none;padding:0}.toast{background:#fff;border-radius:8px;padding:.75rem;margin:.5rem 0}`,
	`.toast.destructive{background:#fee2e2;color:#991b1b}`,
}, "\n")

// pageScript drives the session page: uploads, batch buttons and the
// progress event stream.
const pageScript = `
const api = document.getElementById('config').dataset.api;
const reload = () => location.reload();
async function send(method, path, body) {
  const res = await fetch(api + path, {method, body});
  if (!res.ok) {
    const err = await res.json().catch(() => ({message: res.statusText}));
    alert(err.message + (err.action ? '\n' + err.action : ''));
  }
  return res;
}
function upload(formId, path) {
  const form = document.getElementById(formId);
  form.querySelector('input[type=file]').addEventListener('change', async () => {
    await send('POST', path, new FormData(form));
    reload();
  });
}
upload('csv-form', '/participants');
upload('bg-form', '/background');
document.getElementById('theme').addEventListener('change', async (e) => {
  await send('PUT', '/theme', new URLSearchParams({theme: e.target.value}));
});
document.getElementById('generate').addEventListener('click', () => send('POST', '/generate'));
const exportForm = document.getElementById('export-form');
if (exportForm) {
  exportForm.addEventListener('submit', async (e) => {
    e.preventDefault();
    await send('POST', '/export', new URLSearchParams(new FormData(exportForm)));
  });
}
let wasBusy = false;
const stream = new EventSource(api + '/progress');
stream.addEventListener('progress', (e) => {
  const p = JSON.parse(e.data);
  const panel = document.getElementById('progress');
  const busy = p.stage !== 'complete';
  panel.hidden = !busy;
  panel.querySelector('progress').value = Math.round(p.current / Math.max(p.total, 1) * 100);
  const verb = p.stage === 'generating' ? 'generated' : p.stage === 'exporting' ? 'exported' : 'processed';
  document.getElementById('progress-text').textContent = p.current + '/' + p.total + ' ' + verb;
  if (wasBusy && !busy) {
    stream.close();
    reload();
  }
  wasBusy = busy;
});
`

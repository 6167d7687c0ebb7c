package orderentry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/trade_desk/internal/browsersession"
	"github.com/dgnsrekt/trade_desk/internal/fault"
)

// CDPDriver implements PageDriver against a live browser tab borrowed from
// the session controller. Element lookups run as in-page JS; clicks and
// typing go through trusted CDP input events, since the ticket's controlled
// inputs ignore synthetic ones.
type CDPDriver struct {
	ctrl     *browsersession.Controller
	orderURL string
	tab      *browsersession.Tab
}

func NewCDPDriver(ctrl *browsersession.Controller, orderURL string) *CDPDriver {
	return &CDPDriver{ctrl: ctrl, orderURL: orderURL}
}

type evalResult struct {
	OK           bool            `json:"ok"`
	ErrorCode    string          `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
	Data         json.RawMessage `json:"data"`
}

func buildIIFE(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"EVAL_FAILURE",error_message:String(err && err.message || err)});
}
})()`
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (d *CDPDriver) eval(ctx context.Context, body string) (evalResult, error) {
	if d.tab == nil {
		return evalResult{}, fault.New(fault.CodeSessionLost, "no order tab", nil)
	}
	raw, err := d.tab.Eval(ctx, buildIIFE(body))
	if err != nil {
		return evalResult{}, fault.New(fault.CodeSessionLost, "eval", err)
	}
	var res evalResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return evalResult{}, fault.New(fault.CodeSessionLost, fmt.Sprintf("bad eval result %q", raw), err)
	}
	return res, nil
}

// Open opens the order tab and waits for document-ready. Ready here means
// the document finished loading, not that any particular element exists;
// element presence is each step's own concern.
func (d *CDPDriver) Open(ctx context.Context) error {
	// Retried Open calls poll readiness on the tab already opened rather
	// than piling up fresh tabs.
	if d.tab == nil {
		tab, err := d.ctrl.OpenTab(ctx, d.orderURL)
		if err != nil {
			return err
		}
		d.tab = tab
	}

	res, err := d.eval(ctx, `return JSON.stringify({ok: document.readyState === "complete"});`)
	if err != nil {
		return err
	}
	if !res.OK {
		return fault.New(fault.CodeElementMissing, "document not ready", nil)
	}
	return nil
}

// Screenshot grabs the open order tab's viewport as PNG bytes.
func (d *CDPDriver) Screenshot(ctx context.Context) ([]byte, error) {
	if d.tab == nil {
		return nil, fault.New(fault.CodeSessionLost, "no order tab", nil)
	}
	return d.tab.Screenshot(ctx)
}

// Close closes the order tab and brings the primary tab back to the front.
func (d *CDPDriver) Close(ctx context.Context) error {
	if d.tab == nil {
		return nil
	}
	err := d.tab.Close(ctx)
	d.tab = nil
	if aerr := d.ctrl.ActivatePrimary(ctx); aerr != nil && err == nil {
		err = aerr
	}
	return err
}

// FillByID focuses and clears the input, types the value as trusted char
// events, then commits the field with a change event and blur. The blur
// stands in for the tab-advance a human would type.
func (d *CDPDriver) FillByID(ctx context.Context, id, value string) error {
	res, err := d.eval(ctx, `
var el = document.getElementById(`+jsJSON(id)+`);
if (!el) return JSON.stringify({ok:false,error_code:"ELEMENT_MISSING",error_message:`+jsJSON(id)+`});
el.focus();
if (typeof el.select === "function") el.select();
el.value = "";
el.dispatchEvent(new Event("input", {bubbles:true}));
return JSON.stringify({ok:true});`)
	if err != nil {
		return err
	}
	if !res.OK {
		return fault.New(fault.CodeElementMissing, res.ErrorMessage, nil)
	}

	if err := d.tab.TypeText(ctx, value); err != nil {
		return fault.New(fault.CodeSessionLost, "type into "+id, err)
	}

	res, err = d.eval(ctx, `
var el = document.getElementById(`+jsJSON(id)+`);
if (!el) return JSON.stringify({ok:false,error_code:"ELEMENT_MISSING",error_message:`+jsJSON(id)+`});
el.dispatchEvent(new Event("change", {bubbles:true}));
el.blur();
return JSON.stringify({ok:true});`)
	if err != nil {
		return err
	}
	if !res.OK {
		return fault.New(fault.CodeElementMissing, res.ErrorMessage, nil)
	}
	return nil
}

// jsFindByLabel locates a clickable control by trimmed text or aria-label
// and returns its viewport center. With scroll set, the control is scrolled
// into view and re-measured first; mouse events dispatch at viewport
// coordinates, so a center below the fold would miss the control entirely.
const jsFindByLabel = `
function _findByLabel(label, scroll) {
  var nodes = document.querySelectorAll("button, a, label, span, div[role=button], input[type=radio] + label");
  for (var i = 0; i < nodes.length; i++) {
    var el = nodes[i];
    var text = (el.textContent || "").trim();
    var aria = el.getAttribute && (el.getAttribute("aria-label") || "");
    if (text !== label && aria !== label) continue;
    if (el.offsetParent === null) continue;
    var r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) continue;
    if (scroll) {
      el.scrollIntoView({block: "center", inline: "nearest"});
      r = el.getBoundingClientRect();
    }
    return {x: r.left + r.width / 2, y: r.top + r.height / 2};
  }
  return null;
}
`

// ClickByLabel finds the labeled control, scrolls it into view and clicks
// its center with trusted mouse events.
func (d *CDPDriver) ClickByLabel(ctx context.Context, label string) (bool, error) {
	res, err := d.eval(ctx, jsFindByLabel+`
var pt = _findByLabel(`+jsJSON(label)+`, true);
if (!pt) return JSON.stringify({ok:true,data:{found:false}});
return JSON.stringify({ok:true,data:{found:true,x:pt.x,y:pt.y}});`)
	if err != nil {
		return false, err
	}
	if !res.OK {
		return false, fault.New(fault.CodeSessionLost, res.ErrorMessage, nil)
	}

	var data struct {
		Found bool    `json:"found"`
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return false, fault.New(fault.CodeSessionLost, "bad click target", err)
	}
	if !data.Found {
		return false, nil
	}
	if err := d.tab.ClickAt(ctx, data.X, data.Y); err != nil {
		return false, fault.New(fault.CodeSessionLost, "click "+label, err)
	}
	return true, nil
}

// HasID reports whether an element with the given id exists on the page.
func (d *CDPDriver) HasID(ctx context.Context, id string) (bool, error) {
	res, err := d.eval(ctx, `
return JSON.stringify({ok:true,data:{found: document.getElementById(`+jsJSON(id)+`) !== null}});`)
	if err != nil {
		return false, err
	}
	return d.foundFrom(res)
}

// HasLabel reports whether a labeled control exists and is visible.
func (d *CDPDriver) HasLabel(ctx context.Context, label string) (bool, error) {
	res, err := d.eval(ctx, jsFindByLabel+`
return JSON.stringify({ok:true,data:{found: _findByLabel(`+jsJSON(label)+`) !== null}});`)
	if err != nil {
		return false, err
	}
	return d.foundFrom(res)
}

func (d *CDPDriver) foundFrom(res evalResult) (bool, error) {
	if !res.OK {
		return false, fault.New(fault.CodeSessionLost, res.ErrorMessage, nil)
	}
	var data struct {
		Found bool `json:"found"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return false, fault.New(fault.CodeSessionLost, "bad lookup result", err)
	}
	return data.Found, nil
}

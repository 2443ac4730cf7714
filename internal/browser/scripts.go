package browser

import (
	"fmt"
	"strings"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
)

// pagePrelude is evaluated ahead of every page operation. Each operation
// resolves to JSON.stringify({ok, code, error, value}).
const pagePrelude = `
const __ok = (value) => JSON.stringify({ ok: true, value: value === undefined ? null : value });
const __fail = (code, error) => JSON.stringify({ ok: false, code: code, error: String(error) });

const __query = (scope, selector) => {
  try {
    return Array.from(scope.querySelectorAll(selector));
  } catch (e) {
    throw { code: 'invalid_selector', error: selector };
  }
};

const __locate = (path) => {
  let scope = document;
  let el = null;
  for (const step of path) {
    el = __query(scope, step.selector)[step.index];
    if (!el) throw { code: 'detached', error: step.selector };
    scope = el;
  }
  return el;
};

const __quote = (s) => '"' + String(s).replace(/\\/g, '\\\\').replace(/"/g, '\\"') + '"';

const __text = (el) => (el.innerText !== undefined ? el.innerText : el.textContent || '').trim();

const __label = (el) => {
  const aria = el.getAttribute('aria-label');
  if (aria) return aria.trim();
  if (el.labels && el.labels.length) return __text(el.labels[0]);
  const wrap = el.closest('label');
  return wrap ? __text(wrap) : '';
};

const __describe = (el) => {
  const tag = el.tagName.toLowerCase();
  const attr = (n) => el.getAttribute(n) || '';
  let type = '';
  if (tag === 'input') type = (attr('type') || 'text').toLowerCase();
  else if (tag === 'button') type = (attr('type') || 'submit').toLowerCase();
  else if (tag === 'select') type = el.multiple ? 'select-multiple' : 'select-one';
  else if (tag === 'textarea') type = 'textarea';

  const r = el.getBoundingClientRect();
  const style = window.getComputedStyle(el);
  const visible = r.width > 0 && r.height > 0 && style.visibility !== 'hidden' && style.display !== 'none';
  const buttonLike = tag === 'input' && ['button', 'submit', 'reset'].includes(type);

  let selector = '';
  if (el.id) selector = '#' + CSS.escape(el.id);
  else if (attr('name') && type !== 'radio') selector = tag + '[name=' + __quote(attr('name')) + ']';

  return {
    selector: selector,
    tag: tag,
    type: type,
    id: el.id || '',
    name: attr('name'),
    value: 'value' in el && el.value != null ? String(el.value) : '',
    text: buttonLike ? String(el.value || '') : (tag === 'input' ? '' : __text(el)),
    placeholder: attr('placeholder'),
    label: ['input', 'select', 'textarea', 'button'].includes(tag) ? __label(el) : attr('aria-label'),
    href: attr('href'),
    target: attr('target'),
    action: attr('action'),
    method: attr('method'),
    formAction: attr('formaction'),
    accept: attr('accept'),
    checked: !!el.checked,
    selected: !!el.selected,
    disabled: !!el.disabled,
    readOnly: !!el.readOnly,
    required: !!el.required,
    multiple: !!el.multiple,
    visible: visible,
    connected: el.isConnected,
    focusable: el.matches('input, select, textarea, button, a[href], [tabindex], [contenteditable]'),
    inForm: !!(el.form || el.closest('form')),
    rect: { x: r.x, y: r.y, width: r.width, height: r.height },
  };
};

const __event = (desc) => {
  const init = { bubbles: true, cancelable: true, composed: true };
  const type = desc.type;
  if (type.startsWith('key')) {
    return new KeyboardEvent(type, Object.assign(init, { key: desc.key || '' }));
  }
  const pointer = { clientX: desc.clientX || 0, clientY: desc.clientY || 0, button: 0, buttons: /down$/.test(type) ? 1 : 0, view: window };
  if (type.startsWith('pointer')) {
    return new PointerEvent(type, Object.assign(init, pointer, { pointerType: 'mouse', isPrimary: true }));
  }
  if (type.startsWith('mouse') || type === 'click') {
    return new MouseEvent(type, Object.assign(init, pointer));
  }
  if (type === 'input') {
    return new InputEvent('input', { bubbles: true, composed: true });
  }
  return new Event(type, { bubbles: true });
};

const __setValue = (el, value) => {
  const proto = Object.getPrototypeOf(el);
  const desc = Object.getOwnPropertyDescriptor(proto, 'value');
  if (desc && desc.set) desc.set.call(el, value);
  else el.value = value;
};
`

// pageScript wraps body, which may use the prelude helpers and must return a
// value, into an expression that always yields an envelope string.
func pageScript(body string) string {
	var sb strings.Builder
	sb.WriteString("(() => {\n")
	sb.WriteString(pagePrelude)
	sb.WriteString("try {\n")
	sb.WriteString(body)
	sb.WriteString("\n} catch (e) {\n")
	sb.WriteString("  if (e && e.code) return __fail(e.code, e.error);\n")
	sb.WriteString("  return __fail('error', e && e.message ? e.message : e);\n")
	sb.WriteString("}\n})()")
	return sb.String()
}

// jsArg renders v as a JavaScript literal.
func jsArg(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func pathArg(h *dom.Handle) string {
	if h == nil {
		return "null"
	}
	return jsArg(h.Path())
}

func queryAllScript(scope *dom.Handle, selector string) string {
	return pageScript(fmt.Sprintf(`
const path = %s;
const root = path ? __locate(path) : document;
return __ok(__query(root, %s).map(__describe));`, pathArg(scope), jsArg(selector)))
}

func describeScript(h dom.Handle) string {
	return pageScript(fmt.Sprintf(`return __ok(__describe(__locate(%s)));`, pathArg(&h)))
}

func dispatchScript(h dom.Handle, ev dom.Event) string {
	return pageScript(fmt.Sprintf(`
const el = __locate(%s);
el.dispatchEvent(__event(%s));
return __ok(true);`, pathArg(&h), jsArg(ev)))
}

func setPropertyScript(h dom.Handle, name string, value interface{}) string {
	return pageScript(fmt.Sprintf(`
const el = __locate(%s);
const name = %s;
const value = %s;
if (name === 'value') __setValue(el, value);
else el[name] = value;
return __ok(true);`, pathArg(&h), jsArg(name), jsArg(value)))
}

func invokeScript(h dom.Handle, method string) string {
	return pageScript(fmt.Sprintf(`
const el = __locate(%s);
switch (%s) {
case 'focus':
  el.focus();
  break;
case 'scrollIntoView':
  el.scrollIntoView({ block: 'center', inline: 'center' });
  break;
case 'submit': {
  const form = el.tagName === 'FORM' ? el : el.form || el.closest('form');
  if (!form) return __fail('error', 'no form owner');
  if (typeof form.requestSubmit === 'function') form.requestSubmit();
  else form.submit();
  break;
}
default:
  return __fail('error', 'unsupported method');
}
return __ok(true);`, pathArg(&h), jsArg(method)))
}

func htmlScript(h *dom.Handle) string {
	if h == nil {
		return pageScript(`return __ok(document.documentElement.outerHTML);`)
	}
	return pageScript(fmt.Sprintf(`return __ok(__locate(%s).innerHTML);`, pathArg(h)))
}

func locationScript() string {
	return pageScript(`return __ok({ url: location.href, title: document.title });`)
}

// userScript wraps a controller supplied script. Scripts with a return
// statement run as an async function body, anything else as an expression.
func userScript(src string) string {
	if hasReturnStatement(src) {
		return functionBody(src)
	}
	return src
}

func functionBody(src string) string {
	return "(async () => {\n" + src + "\n})()"
}

// hasReturnStatement reports whether src uses the return keyword outside
// string literals, template literals, comments and property accesses.
func hasReturnStatement(src string) bool {
	isIdent := func(c byte) bool {
		return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
	}
	var prev byte // last significant character before the current token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i++
			for i < len(src) && src[i] != c {
				if src[i] == '\\' {
					i++
				}
				i++
			}
			i++
			prev = c
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 4
		case isIdent(c):
			start := i
			for i < len(src) && isIdent(src[i]) {
				i++
			}
			if src[start:i] == "return" && prev != '.' {
				return true
			}
			prev = c
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		default:
			prev = c
			i++
		}
	}
	return false
}

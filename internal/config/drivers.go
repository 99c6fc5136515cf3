package config

// Built-in kernel drivers. Each is a tiny REPL speaking the NDJSON kernel
// protocol: it prints a {"type":"ready"} banner once, then for every request
// line {"id","code"} emits zero or more {"type":"stream","name","text"}
// events followed by exactly one {"type":"result","data"} or
// {"type":"error","ename","evalue","traceback"} event. State persists across
// requests within one driver process.

// PythonDriver evaluates cells against one shared globals dict. The value of
// a trailing expression is reported as the structured result, Jupyter-style.
// KeyboardInterrupt during a cell is a regular code-level error.
const PythonDriver = `
import ast
import json
import sys
import traceback

_out = sys.stdout


def _send(msg):
    _out.write(json.dumps(msg) + "\n")
    _out.flush()


class _Stream:
    def __init__(self, name):
        self.name = name

    def write(self, text):
        if text:
            _send({"type": "stream", "name": self.name, "text": str(text)})
        return len(text)

    def flush(self):
        pass


_globals = {"__name__": "__main__"}
_send({"type": "ready", "language": "python"})

for _line in sys.stdin:
    _line = _line.strip()
    if not _line:
        continue
    try:
        _req = json.loads(_line)
    except ValueError:
        continue
    _code = _req.get("code", "")
    sys.stdout = _Stream("stdout")
    sys.stderr = _Stream("stderr")
    try:
        _tree = ast.parse(_code, mode="exec")
        _value = None
        if _tree.body and isinstance(_tree.body[-1], ast.Expr):
            _last = ast.Expression(_tree.body[-1].value)
            _rest = ast.Module(body=_tree.body[:-1], type_ignores=[])
            exec(compile(_rest, "<cell>", "exec"), _globals)
            _value = eval(compile(_last, "<cell>", "eval"), _globals)
        else:
            exec(compile(_tree, "<cell>", "exec"), _globals)
        _send({"type": "result", "data": "" if _value is None else repr(_value)})
    except BaseException as _exc:
        _tb = traceback.format_exception(type(_exc), _exc, _exc.__traceback__)
        _send({
            "type": "error",
            "ename": type(_exc).__name__,
            "evalue": str(_exc),
            "traceback": [str(_frame) for _frame in _tb],
        })
    finally:
        sys.stdout = _out
        sys.stderr = sys.__stderr__
`

// JavaScriptDriver evaluates cells in one persistent vm context. Printed
// output is captured through the context's console; the value of the cell is
// the structured result. Node cannot interrupt synchronous code, so cancel of
// a running javascript cell takes the kill path.
const JavaScriptDriver = `
const readline = require("readline");
const util = require("util");
const vm = require("vm");

function send(msg) {
  process.stdout.write(JSON.stringify(msg) + "\n");
}

function streamWriter(name) {
  return (...args) => {
    const text = args.map((a) => (typeof a === "string" ? a : util.inspect(a))).join(" ") + "\n";
    send({ type: "stream", name: name, text: text });
  };
}

const sandboxConsole = {
  log: streamWriter("stdout"),
  info: streamWriter("stdout"),
  warn: streamWriter("stderr"),
  error: streamWriter("stderr"),
  debug: streamWriter("stdout"),
};

const context = vm.createContext({
  console: sandboxConsole,
  require: require,
  setTimeout: setTimeout,
  clearTimeout: clearTimeout,
  Buffer: Buffer,
});

send({ type: "ready", language: "javascript" });

const rl = readline.createInterface({ input: process.stdin, terminal: false });
rl.on("line", (line) => {
  line = line.trim();
  if (!line) {
    return;
  }
  let req;
  try {
    req = JSON.parse(line);
  } catch (err) {
    return;
  }
  try {
    const value = vm.runInContext(req.code || "", context, { filename: "<cell>" });
    send({ type: "result", data: value === undefined ? "" : util.inspect(value) });
  } catch (err) {
    const stack = err && err.stack ? String(err.stack).split("\n") : [];
    send({
      type: "error",
      ename: err && err.name ? err.name : "Error",
      evalue: err && err.message ? err.message : String(err),
      traceback: stack,
    });
  }
});
`

//go:build !v8

package qjsengine

// preludeJS installs the script half of the op calling convention. Same
// tagged-JSON wire format as the V8 backend, with two QuickJS-specific
// twists: __dispatch_raw always returns a JSON string, and async dispatches
// come back as a {"t":"pending"} tag the prelude turns into a promise whose
// resolve/reject pair waits in __strand.pending for a settle call.
const preludeJS = `
(function() {
	var B64 = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var b64lookup = null;

	function b64encode(bytes) {
		var out = '';
		var i;
		for (i = 0; i + 2 < bytes.length; i += 3) {
			var n = (bytes[i] << 16) | (bytes[i + 1] << 8) | bytes[i + 2];
			out += B64[(n >> 18) & 63] + B64[(n >> 12) & 63] + B64[(n >> 6) & 63] + B64[n & 63];
		}
		var rem = bytes.length - i;
		if (rem === 1) {
			var n1 = bytes[i] << 16;
			out += B64[(n1 >> 18) & 63] + B64[(n1 >> 12) & 63] + '==';
		} else if (rem === 2) {
			var n2 = (bytes[i] << 16) | (bytes[i + 1] << 8);
			out += B64[(n2 >> 18) & 63] + B64[(n2 >> 12) & 63] + B64[(n2 >> 6) & 63] + '=';
		}
		return out;
	}

	function b64decode(s) {
		if (!b64lookup) {
			b64lookup = {};
			for (var j = 0; j < B64.length; j++) b64lookup[B64[j]] = j;
		}
		var pad = 0;
		while (s.length > 0 && s[s.length - 1 - pad] === '=') pad++;
		var len = (s.length / 4) * 3 - pad;
		var bytes = new Uint8Array(len);
		var p = 0;
		for (var i = 0; i < s.length; i += 4) {
			var n = (b64lookup[s[i]] << 18) | (b64lookup[s[i + 1]] << 12) |
				((b64lookup[s[i + 2]] | 0) << 6) | (b64lookup[s[i + 3]] | 0);
			if (p < len) bytes[p++] = (n >> 16) & 255;
			if (p < len) bytes[p++] = (n >> 8) & 255;
			if (p < len) bytes[p++] = n & 255;
		}
		return bytes.buffer;
	}

	function encodeArg(v) {
		if (v === undefined) return { t: 'undefined' };
		if (v === null) return { t: 'null' };
		var ty = typeof v;
		if (ty === 'boolean') return { t: 'bool', b: v };
		if (ty === 'number') {
			if (v === Infinity) return { t: 'f64', s: 'Infinity' };
			if (v === -Infinity) return { t: 'f64', s: '-Infinity' };
			if (v !== v) return { t: 'f64', s: 'NaN' };
			return { t: 'f64', n: v };
		}
		if (ty === 'string') return { t: 'str', s: v };
		if (v instanceof ArrayBuffer) return { t: 'buf', s: b64encode(new Uint8Array(v)) };
		if (ArrayBuffer.isView(v)) {
			return { t: 'buf', s: b64encode(new Uint8Array(v.buffer, v.byteOffset, v.byteLength)) };
		}
		throw new TypeError('cannot pass ' + ty + ' to a native op');
	}

	function reviveError(name, msg) {
		if (name === 'TypeError') return new TypeError(msg);
		if (name === 'RangeError') return new RangeError(msg);
		var e = new Error(msg);
		e.name = name;
		return e;
	}

	function decodeWire(w) {
		switch (w.t) {
		case 'undefined': return undefined;
		case 'null': return null;
		case 'bool': return w.b;
		case 'i32':
		case 'u32':
		case 'ext': return w.n;
		case 'f64':
			if (w.n !== undefined) return w.n;
			if (w.s === 'Infinity') return Infinity;
			if (w.s === '-Infinity') return -Infinity;
			return NaN;
		case 'str': return w.s;
		case 'buf': return b64decode(w.s);
		case 'err': throw reviveError(w.name, w.msg);
		}
		throw new TypeError('malformed native result');
	}

	var ops = {};
	var pending = {};

	function call(name) {
		var id = ops[name];
		if (id === undefined) throw new TypeError('unknown op: ' + name);
		var encoded = [];
		for (var i = 1; i < arguments.length; i++) encoded.push(encodeArg(arguments[i]));
		var w = JSON.parse(__dispatch_raw(id, JSON.stringify(encoded)));
		if (w.t === 'pending') {
			return new Promise(function(resolve, reject) {
				pending[w.n] = { resolve: resolve, reject: reject };
			});
		}
		return decodeWire(w);
	}

	globalThis.__strand = {
		setOps: function(tableJSON) { ops = JSON.parse(tableJSON); },
		pending: pending,
		call: call,
		// QuickJS has no separate numeric entry point; keep the surface
		// uniform for scripts written against both backends.
		callFast: call,
		settle: function(id, json) {
			var p = pending[id];
			if (!p) return;
			delete pending[id];
			try {
				p.resolve(decodeWire(JSON.parse(json)));
			} catch (e) {
				p.reject(e);
			}
		}
	};
})();
`

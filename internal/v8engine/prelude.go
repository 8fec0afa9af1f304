//go:build v8

package v8engine

// preludeJS installs the script half of the op calling convention. Values
// cross the boundary as tagged JSON with base64 buffer payloads; the
// prelude encodes outgoing arguments, decodes results, and revives error
// tags into thrown exceptions with the original class.
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

	function decodeResult(json) {
		return decodeWire(JSON.parse(json));
	}

	var ops = {};

	function call(name) {
		var id = ops[name];
		if (id === undefined) throw new TypeError('unknown op: ' + name);
		var encoded = [];
		for (var i = 1; i < arguments.length; i++) encoded.push(encodeArg(arguments[i]));
		var r = __dispatch(id, JSON.stringify(encoded));
		if (r instanceof Promise) return r.then(decodeResult);
		return decodeResult(r);
	}

	globalThis.__strand = {
		setOps: function(tableJSON) { ops = JSON.parse(tableJSON); },
		decodeResult: decodeResult,
		call: call,
		// Numeric-only calling convention; null from the native side means
		// fall back to the general path.
		callFast: function(name) {
			if (typeof __dispatch_fast !== 'function') return call.apply(null, arguments);
			var id = ops[name];
			if (id === undefined) throw new TypeError('unknown op: ' + name);
			var nums = [id];
			for (var i = 1; i < arguments.length; i++) nums.push(arguments[i]);
			var r = __dispatch_fast.apply(null, nums);
			if (r === null) return call.apply(null, arguments);
			return r;
		}
	};
})();
`

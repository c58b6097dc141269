package sandbox

// sceneGraphJS walks the rendered DOM and returns the scene graph as a JSON
// value. Selector derivation is deterministic: id, then a data-* hook, then
// tag.firstClass when globally unique, then an nth-of-type path.
const sceneGraphJS = `() => {
	const vw = window.innerWidth, vh = window.innerHeight;
	const MIN = 5;
	const ATTR_WHITELIST = ['type', 'role', 'disabled', 'href', 'onclick'];

	const cssEscape = (s) => (window.CSS && CSS.escape) ? CSS.escape(s) : s.replace(/([^a-zA-Z0-9_-])/g, '\\$1');

	const dataHook = (el) => {
		for (const a of el.attributes) {
			if (a.name.startsWith('data-') && a.value !== '') {
				return '[' + a.name + '="' + a.value.replace(/"/g, '\\"') + '"]';
			}
			if (a.name.startsWith('data-')) {
				return '[' + a.name + ']';
			}
		}
		return null;
	};

	const uniqueSelector = (el) => {
		if (el.id) return '#' + cssEscape(el.id);
		const hook = dataHook(el);
		if (hook) {
			const sel = el.tagName.toLowerCase() + hook;
			if (document.querySelectorAll(sel).length === 1) return sel;
		}
		if (el.classList.length > 0) {
			const sel = el.tagName.toLowerCase() + '.' + cssEscape(el.classList[0]);
			if (document.querySelectorAll(sel).length === 1) return sel;
		}
		// nth-of-type path up to body.
		const parts = [];
		let node = el;
		while (node && node !== document.body && node.nodeType === 1) {
			let idx = 1, sib = node;
			while ((sib = sib.previousElementSibling)) {
				if (sib.tagName === node.tagName) idx++;
			}
			parts.unshift(node.tagName.toLowerCase() + ':nth-of-type(' + idx + ')');
			node = node.parentElement;
		}
		return 'body > ' + parts.join(' > ');
	};

	const classify = (el, style) => {
		const tag = el.tagName.toLowerCase();
		if (tag === 'button' || el.getAttribute('role') === 'button') return 'button';
		if (tag === 'input' || tag === 'select' || tag === 'textarea') return 'input';
		if (tag === 'img' || tag === 'svg' || tag === 'canvas' || tag === 'video') return 'image';
		const hasText = Array.from(el.childNodes).some(n => n.nodeType === 3 && n.textContent.trim() !== '');
		if (hasText && el.children.length === 0) return 'text';
		if (el.children.length > 0) return 'container';
		return 'unknown';
	};

	const nodes = [];
	for (const el of document.body.querySelectorAll('*')) {
		const rect = el.getBoundingClientRect();
		if (rect.width < MIN || rect.height < MIN) continue;
		if (rect.bottom < 0 || rect.right < 0 || rect.top > vh || rect.left > vw) continue;

		const style = window.getComputedStyle(el);
		if (style.display === 'none') continue;
		const visible = style.visibility !== 'hidden' && parseFloat(style.opacity) > 0.01;

		const attrs = {};
		for (const name of ATTR_WHITELIST) {
			const v = el.getAttribute(name);
			if (v !== null) attrs[name] = v;
		}
		for (const a of el.attributes) {
			if (a.name.startsWith('data-') || a.name.startsWith('aria-')) attrs[a.name] = a.value;
		}
		if (style.cursor === 'pointer') attrs['cursor'] = 'pointer';

		let owner = null;
		if (el.parentElement && typeof el.parentElement.onclick === 'function' && typeof el.onclick !== 'function') {
			owner = uniqueSelector(el.parentElement);
		}

		const z = parseInt(style.zIndex, 10);
		nodes.push({
			selector: uniqueSelector(el),
			tag: el.tagName.toLowerCase(),
			node_type: classify(el, style),
			bounding_box: { x: rect.left, y: rect.top, w: rect.width, h: rect.height },
			visible: visible,
			z_index: isNaN(z) ? 0 : z,
			text: (el.innerText || '').trim().slice(0, 120),
			attributes: attrs,
			event_owner_candidate: owner || undefined,
		});
	}
	return { nodes: nodes, viewport_w: vw, viewport_h: vh };
}`

// pauseAnimationsJS freezes CSS animations and transitions so ambient
// pixel churn does not pollute interaction deltas.
const pauseAnimationsJS = `() => {
	const style = document.createElement('style');
	style.id = '__pause_animations';
	style.textContent = '*, *::before, *::after {' +
		'animation-play-state: paused !important;' +
		'transition-duration: 0.01ms !important;' +
		'animation-duration: 0.01ms !important; }';
	document.head.appendChild(style);
	return true;
}`

// renderHealthJS reports the minimal signs of life checked in the render
// phase: visible text or at least one visibly sized descendant, and a
// non-empty body.
const renderHealthJS = `() => {
	const body = document.body;
	if (!body) return { children: 0, has_text: false, sized: 0 };
	const text = (body.innerText || '').trim();
	let sized = 0;
	for (const el of body.querySelectorAll('*')) {
		const r = el.getBoundingClientRect();
		if (r.width >= 5 && r.height >= 5) { sized++; if (sized > 3) break; }
	}
	return { children: body.children.length, has_text: text.length > 0, sized: sized };
}`

// invisibleProbeJS counts how many of the given selectors resolve to an
// element with zero rendered footprint.
const invisibleProbeJS = `(selectors) => {
	let invisible = 0;
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (!el) continue;
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		if (rect.width === 0 || rect.height === 0 || style.visibility === 'hidden' || parseFloat(style.opacity) <= 0.01) {
			invisible++;
		}
	}
	return invisible;
}`

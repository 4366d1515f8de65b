package scraper

import (
	"log/slog"

	"github.com/go-rod/rod"
)

// brandingJS collects a brand profile from computed styles of the rendered page.
const brandingJS = `() => {
	const css = (el, prop) => el ? getComputedStyle(el).getPropertyValue(prop).trim() : "";
	const body = document.body;
	const first = (sel) => document.querySelector(sel);
	const h1 = first("h1"), h2 = first("h2"), p = first("p"), a = first("a");
	const button = first("button, .btn, [role=button], input[type=submit]");
	const input = first("input[type=text], input[type=email], input:not([type])");

	const isTransparent = (c) => !c || c === "transparent" || c === "rgba(0, 0, 0, 0)";
	const bg = isTransparent(css(body, "background-color")) ? css(document.documentElement, "background-color") : css(body, "background-color");

	const parseRGB = (c) => {
		const m = /rgba?\((\d+),\s*(\d+),\s*(\d+)/.exec(c || "");
		return m ? [+m[1], +m[2], +m[3]] : null;
	};
	const rgb = parseRGB(bg);
	const luminance = rgb ? (0.2126 * rgb[0] + 0.7152 * rgb[1] + 0.0722 * rgb[2]) / 255 : 1;

	const fonts = new Map();
	for (const el of [body, h1, h2, p, a, button]) {
		const fam = css(el, "font-family");
		if (!fam) continue;
		const name = fam.split(",")[0].replace(/["']/g, "").trim();
		fonts.set(name, (fonts.get(name) || 0) + 1);
	}

	const logoEl = first('header img[src*="logo" i], img[alt*="logo" i], img[class*="logo" i], a[class*="logo" i] img, header svg');
	let logo = "";
	if (logoEl && logoEl.tagName === "IMG") logo = logoEl.currentSrc || logoEl.src;
	const icon = first('link[rel~="icon"]');

	return {
		colorScheme: luminance < 0.5 ? "dark" : "light",
		colors: {
			background: bg,
			textPrimary: css(body, "color"),
			primary: isTransparent(css(button, "background-color")) ? css(a, "color") : css(button, "background-color"),
			link: css(a, "color"),
		},
		fonts: [...fonts.entries()].sort((x, y) => y[1] - x[1]).map(([family]) => ({ family })),
		typography: {
			fontFamilies: { primary: css(body, "font-family"), heading: css(h1 || h2, "font-family") },
			fontSizes: { h1: css(h1, "font-size"), h2: css(h2, "font-size"), body: css(p || body, "font-size") },
		},
		spacing: {
			baseUnit: parseFloat(css(body, "font-size")) || 16,
			borderRadius: css(button, "border-radius"),
		},
		components: {
			buttonPrimary: button ? {
				background: css(button, "background-color"),
				textColor: css(button, "color"),
				borderRadius: css(button, "border-radius"),
			} : null,
			input: input ? {
				borderColor: css(input, "border-color"),
				borderRadius: css(input, "border-radius"),
			} : null,
		},
		images: {
			logo: logo,
			favicon: icon ? icon.href : "",
			ogImage: (first('meta[property="og:image"]') || {}).content || "",
		},
	};
}`

// evalBranding runs brandingJS. A failure is logged and yields nil so the
// pipeline can fall back to static analysis.
func evalBranding(p *rod.Page) map[string]any {
	res, err := p.Eval(brandingJS)
	if err != nil {
		slog.Debug("branding evaluation failed", "error", err)
		return nil
	}
	m, ok := res.Value.Val().(map[string]any)
	if !ok {
		return nil
	}
	return m
}

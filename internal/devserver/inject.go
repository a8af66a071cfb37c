package devserver

import (
	"bytes"
)

var (
	scriptTag = []byte(`<script src="/livereload.js"></script>`)
	bannerTag = []byte(`<div id="docserve-error-banner" style="position:fixed;top:0;left:0;right:0;z-index:9999;padding:.5rem 1rem;background:#b00020;color:#fff;font:14px sans-serif">` +
		`Latest build failed. <a style="color:#fff;text-decoration:underline" href="/_docserve/errors">Show errors</a></div>`)
	bodyClose = []byte("</body>")
)

// inject adds serve-time markup before the closing body tag, or at the end of
// documents without one. doc is never modified.
func inject(doc []byte, script, banner bool) []byte {
	if !script && !banner {
		return doc
	}
	var extra []byte
	if banner {
		extra = append(extra, bannerTag...)
	}
	if script {
		extra = append(extra, scriptTag...)
	}

	i := bytes.LastIndex(bytes.ToLower(doc), bodyClose)
	if i < 0 {
		i = len(doc)
	}
	out := make([]byte, 0, len(doc)+len(extra))
	out = append(out, doc[:i]...)
	out = append(out, extra...)
	return append(out, doc[i:]...)
}

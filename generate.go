// Package markpaste is a pastebin for markdown and source code with live preview.
//
// Regenerate the syntax highlighting stylesheet using:
//
//	go generate
package markpaste

//go:generate go run ./tools/generate-chroma-css --out static/css/chroma.css

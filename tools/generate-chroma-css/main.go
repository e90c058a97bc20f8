// Package main generates the Chroma CSS stylesheet served at /static/css/chroma.css.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/euforicio/markpaste/internal/renderer"
)

func main() {
	style := pflag.String("style", renderer.DefaultStyle, "chroma style name")
	out := pflag.StringP("out", "o", "", "output file (default stdout)")
	pflag.Parse()

	css, err := renderer.StyleCSS(*style)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating CSS: %v\n", err)
		os.Exit(1)
	}
	css = append([]byte(fmt.Sprintf("/* Generated by tools/generate-chroma-css (style %s). */\n", *style)), css...)

	if *out == "" {
		_, _ = os.Stdout.Write(css)
		return
	}
	if err := os.WriteFile(*out, css, 0o644); err != nil { //nolint:gosec // generated asset
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *out, err)
		os.Exit(1)
	}
}

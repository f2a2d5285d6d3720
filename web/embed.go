package web

import "embed"

// FS holds the dashboard page, its script and its stylesheet.
//
//go:embed *.html *.css *.js
var FS embed.FS

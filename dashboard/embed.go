// Package dashboard embeds the environment inspector page served at "/".
//
// The page lists the server-wide values from /api/env and streams every
// session update from /api/events. It is a debugging aid; programs run in
// clients, not in this page.
package dashboard

import "embed"

// Assets holds the inspector page.
//
//	assets/
//	  index.html    - page with inline CSS and JavaScript; {{.Title}} is
//	                  replaced with the configured title
//
//go:embed assets/*
var Assets embed.FS

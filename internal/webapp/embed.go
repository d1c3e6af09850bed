// Package webapp provides the embedded static files for the vault web UI.
package webapp

import "embed"

//go:embed index.html app.js style.css
var Assets embed.FS

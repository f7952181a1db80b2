// Package render classifies notification payloads and renders them.
//
// A Payload carries a category tag, an item name and a few free-form
// fields; Render maps it to the title, body, icon and click action that a
// presenter shows. Rendering is pure: the only inputs are the payload, an
// explicit Preferences snapshot and the read-only icon set, so it can be
// called from any goroutine.
//
// Malformed details never fail a render. Each category documents the
// text it falls back to instead.
package render

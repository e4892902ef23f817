// Package render lays collected items out as a paginated document in a
// single forward pass over a record store iterator.
//
// Each item becomes a block (header, body paragraphs, media links,
// permalink and a divider) that is measured before it is placed. A block
// that does not fit on the current page starts a new one; a block taller
// than a page is split between lines. Items that fail validation are
// drawn as a short notice instead of aborting the document.
//
// The drawing surface is the Canvas interface; package render/pdf provides
// the PDF implementation.
package render

// Package tinify is a small client for the TinyPNG shrink API.
//
// Upload posts the raw image bytes and reports byte progress; Download fetches
// the compressed result into a temporary file next to the original so the
// caller can move it into place with a single rename. Both return
// *failure.Error values classified as transport, service or protocol
// failures.
package tinify

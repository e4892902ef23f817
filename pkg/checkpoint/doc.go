// Package checkpoint persists the resumable position of collection runs.
//
// Each subject has one JSON checkpoint in the configured directory:
//
//	<data_dir>/checkpoints/<subject>.checkpoint.json
//
// Saves go through a synced temporary file that is renamed over the live
// checkpoint, so a crash at any point leaves either the previous or the new
// state on disk. Leftover temporary files are never read.
package checkpoint

// Package software is a CPU binding of the flush pipeline.
//
// Ring slots are byte slices, the gradient, tessellation and offscreen
// textures are *image.RGBA, and targets wrap caller-owned *image.RGBA
// images. Loads, blits and offscreen copies are carried out on the pixels;
// every encoder call is also appended to a command log that tests and
// tools can inspect.
//
// The backend is synchronous: work is complete when Finish returns, so a
// frame retires as soon as it ends.
//
// Importing the package registers it as "software":
//
//	import _ "github.com/gogpu/pls/backend/software"
package software

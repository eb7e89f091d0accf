// Package soft implements gpu.Device in memory.
//
// It counts every allocation and release, stores attachment pixels and
// rasterizes draws as single pixels at each referenced vertex position
// (x, y truncated to integers). It exists for headless sessions and tests.
package soft

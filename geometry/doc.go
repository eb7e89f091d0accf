// Package geometry defines decoded chunk payloads and their byte framing.
//
// A frame is
//
//	[compression u8][uncompressed size u32 LE][body]
//
// and the uncompressed body is
//
//	[vertex count u32][index count u32][xyz float32 ...][index u32 ...]
//
// all little-endian. Bodies are stored raw, as an LZ4 block or as a zstd
// frame. Decode validates the payload before returning it, so a Payload
// obtained from Decode can be uploaded without further checks.
package geometry

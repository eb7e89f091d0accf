// Package render draws resident chunks of segmentation layers and maps
// picked pixels back to segment ids.
//
// A Coordinator holds the drawables of a viewer. Each Draw binds a picking
// framebuffer, clears it and lets every drawable issue one draw call per
// visible chunk. Draw calls carry a pick value registered for the
// (layer, original id) pair; Pick reads the value under a pixel and
// reverse-maps it.
//
// PerspectiveView and SliceView are thin adapters over a Base: the former
// draws every geometry kind at the object opacity, the latter only
// skeletons at the selected opacity.
package render

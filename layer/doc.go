// Package layer implements the segmentation layer: the persisted state, the
// interactive-context Layer owning the authoritative identity state and GPU
// residencies, and the processing-context Backend building mirrors and
// chunk sources.
//
// # State
//
// State is the JSON form of one layer:
//
//	{
//	  "source": "memory://volume",
//	  "mesh": "s3://bucket/meshes",
//	  "skeletons": "file:///data/skeletons",
//	  "selectedAlpha": 0.5, "notSelectedAlpha": 0, "objectAlpha": 1,
//	  "segments": ["5", "18446744073709551615"],
//	  "equivalences": [["5", "7"]]
//	}
//
// Segments accept decimal strings and JSON integers and are parsed exactly.
// Restoring is field by field: a malformed field yields a *FieldError while
// the other fields are still restored.
package layer

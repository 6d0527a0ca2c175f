/*
Package horta provides types, constants, and functions that have no other dependencies
and can be used by all packages within horta.  This includes voxel-space geometry,
leveled logging, and the compression/checksum framing used when tile bytes are held
in memory or mirrored to local storage.
*/
package horta

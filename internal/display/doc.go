// Package display converts images into the packed 1-bit buffers a dial's
// e-paper panel accepts, and slices them into transfer chunks.
//
// The panel is 200x144 at one bit per pixel. Eight vertically adjacent
// pixels pack into one byte, most significant bit topmost, pages of eight
// rows top to bottom, columns left to right within a page; a full buffer is
// exactly 3600 bytes. Images of any other resolution are resampled before
// packing.
//
// A transfer is always: clear, seek to origin, write chunks in order with a
// fixed inter-chunk delay, then trigger the refresh. The delay protects the
// dial's receive buffer; the refresh itself takes seconds and belongs to
// the slow operation class.
package display

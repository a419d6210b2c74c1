// Package model defines core types shared between the table and its storage
// and index layers.
//
// # Identity Types
//
//   - SlotID: dense index of a physical row slot (uint32)
//   - Link: slot plus generation, the only way indexes address rows
//
// A Link is comparable with == but carries no ordering meaning for callers.
// Links round-trip through uint64 via Pack/UnpackLink so that sets of links
// can be kept in 64-bit bitmaps.
package model

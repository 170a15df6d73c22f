// Package geo implements route geometry for deliveries: decoding and encoding
// of polylines, great-circle distances, deviation detection and progress
// estimation on top of a MapProvider.
package geo

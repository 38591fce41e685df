// Package pool is a small fixed-capacity byte-slice pool used to stage guest
// HTTP request bodies before they cross into WASM linear memory.
package pool

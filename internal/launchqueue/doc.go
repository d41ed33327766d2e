// Package launchqueue persists app launch requests for the external launch
// workers.
//
// Rows are ordered by their autoincrement ordinal. A pending row's position
// is the number of pending rows with a smaller ordinal, recomputed on every
// read, so rows resolved out of order compact the queue without renumbering.
// Workers delete a row on success or mark it failed with a message; the next
// Status call for that device delivers the message once and deletes the row.
package launchqueue

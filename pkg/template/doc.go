// Package template turns notification events into display text.
//
// A Config maps each notification kind to heading versions, payload
// extractors, an image source and a deep link. The Engine validates an
// event against the selected version, reporting missing and invalid
// parameters separately, and renders it. Slots bound to an entity stay as
// {{slot}} placeholders and come back as includes for the client to
// resolve.
package template

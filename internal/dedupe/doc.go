// Package dedupe tracks which primary keys a data facade has already seen,
// so extensions can skip inserting records they have stored before.
package dedupe

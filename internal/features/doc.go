// Package features computes acoustic feature statistics over the speech
// regions of a recording: fundamental frequency via autocorrelation,
// frame energy, spectral shape descriptors from the magnitude spectrum,
// zero-crossing rate, and an energy-envelope tempo proxy. Extraction is
// deterministic: identical buffers always produce identical vectors.
package features

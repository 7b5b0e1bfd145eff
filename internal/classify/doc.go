// Package classify maps aggregate feature vectors to tone, emotion, and
// sentiment categories. Categories are described by externally loaded
// profile tables (expected center and scale per feature dimension);
// scoring is a weighted distance converted to probabilities through a
// fixed-temperature softmax. Profiles are data, not code, so clinical
// recalibration never touches the scoring algorithm.
package classify

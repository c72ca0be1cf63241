// Package tracking links per-frame detections into tracklets.
//
// Linking runs in passes of increasing frame gap (1, 2, 4, ...). Each pass
// proposes links between the end of one tracklet and the start of another
// exactly frame-diff frames later, scores them with a Strategy and merges
// the best ones greedily, so short unambiguous gaps are settled before the
// noisier long ones are attempted on already consolidated tracks. Between
// passes tracklets may be trimmed to a maximum length or extended along
// their velocity.
package tracking

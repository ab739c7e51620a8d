package compress

// autoRatioThreshold is the largest compressed/plain size ratio at which
// "auto" keeps a compressed result; above it the chunk is stored
// uncompressed, since near-incompressible data (already
// compressed media, encrypted payloads) wastes CPU for no storage win.
const autoRatioThreshold = 0.97

// Auto compresses data with a cheap fast probe and falls back to
// CodecNone when the probe doesn't beat autoRatioThreshold, mirroring
// an eager-compress-then-check-worth-it shape but gated by a
// ratio check before committing to the compressed form.
func Auto(inner Codec, level Level, data []byte) (Codec, []byte, error) {
	if len(data) == 0 {
		return CodecNone, data, nil
	}
	probe, err := Compress(CodecLZ4, 0, data)
	if err != nil {
		return CodecNone, nil, err
	}
	if float64(len(probe))/float64(len(data)) > autoRatioThreshold {
		return CodecNone, data, nil
	}
	if inner == CodecLZ4 || inner == 0 {
		return CodecLZ4, probe, nil
	}
	final, err := Compress(inner, level, data)
	if err != nil {
		return CodecNone, nil, err
	}
	if float64(len(final))/float64(len(data)) > autoRatioThreshold {
		return CodecNone, data, nil
	}
	return inner, final, nil
}

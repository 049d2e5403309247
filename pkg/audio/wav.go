// ABOUTME: Canonical WAV header for unbounded streams
// ABOUTME: Both size fields carry the 0xFFFFFFFF "infinite" sentinel
package audio

import "encoding/binary"

const (
	// WAVHeaderSize is the length of the canonical RIFF/WAVE header
	WAVHeaderSize = 44

	// UnknownSize marks the RIFF and data chunk sizes of a live stream
	UnknownSize = 0xFFFFFFFF
)

// WAVHeader builds a 44-byte PCM header for a stereo stream of unknown length
func WAVHeader(sampleRate, bitsPerSample int) [WAVHeaderSize]byte {
	bytesPerSample := bitsPerSample / 8
	byteRate := sampleRate * Channels * bytesPerSample
	blockAlign := Channels * bytesPerSample

	var hdr [WAVHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], UnknownSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(hdr[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], Channels)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(bitsPerSample))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], UnknownSize)
	return hdr
}

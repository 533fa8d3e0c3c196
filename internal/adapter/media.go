package adapter

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL splits a base64 data URL into its MIME type and decoded bytes.
func ParseDataURL(url string) (string, []byte, error) {
	content, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	metadata, payload, ok := strings.Cut(content, ",")
	if !ok {
		return "", nil, fmt.Errorf("invalid data URL: missing comma separator")
	}

	parts := strings.Split(metadata, ";")
	isBase64 := false
	for _, part := range parts[1:] {
		if part == "base64" {
			isBase64 = true
			break
		}
	}
	if !isBase64 {
		return "", nil, fmt.Errorf("data URL must be base64 encoded")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("invalid data URL payload: %w", err)
	}
	mimeType := parts[0]
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return mimeType, data, nil
}

// WAV wraps little-endian signed PCM samples in a RIFF/WAVE container.
func WAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// PCMFormat reads the sample rate and channel count from a raw PCM MIME type
// such as "audio/L16;codec=pcm;rate=24000". Missing values fall back to the
// supplied defaults.
func PCMFormat(mimeType string, defaultRate, defaultChannels int) (rate, channels int) {
	rate, channels = defaultRate, defaultChannels
	for _, param := range strings.Split(mimeType, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n <= 0 {
			continue
		}
		switch strings.ToLower(key) {
		case "rate":
			rate = n
		case "channels":
			channels = n
		}
	}
	return rate, channels
}

// IsPCM reports whether mimeType names raw PCM audio that needs a container.
func IsPCM(mimeType string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	return base == "audio/l16" || base == "audio/pcm"
}
